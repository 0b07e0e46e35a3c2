package model

// Response is the discriminated result of a pipeline run: exactly one of
// Entities/Entity is set on success, or Errors is set on failure.
type Response struct {
	Success    bool
	Entity     Entity
	Entities   []Entity
	TotalCount int
	Page       int
	PageSize   int
	Errors     *ErrorList
	Status     string
}

// SuccessResponse builds a single-entity success response.
func SuccessResponse(e Entity) *Response {
	return &Response{Success: true, Entity: e}
}

// SuccessListResponse builds a paginated list success response.
func SuccessListResponse(entities []Entity, total, page, pageSize int) *Response {
	return &Response{
		Success:    true,
		Entities:   entities,
		TotalCount: total,
		Page:       page,
		PageSize:   pageSize,
	}
}

// FailureResponse builds a failure response whose Status mirrors the
// ErrorList's type, per the invariant that a non-empty list always yields a
// failure whose status equals the list's type.
func FailureResponse(errs *ErrorList) *Response {
	status := ErrorTypeUnknown
	if errs != nil && errs.Type != "" {
		status = errs.Type
	}
	return &Response{Success: false, Errors: errs, Status: status}
}

// ToDict renders the response body the way a channel would serialize it.
func (r *Response) ToDict() map[string]any {
	if !r.Success {
		return map[string]any{
			"status": r.Status,
			"errors": r.Errors.ToDict(),
		}
	}
	if r.Entities != nil {
		list := make([]map[string]any, 0, len(r.Entities))
		for _, e := range r.Entities {
			list = append(list, e.ToDict())
		}
		return map[string]any{
			"data":        list,
			"total_count": r.TotalCount,
			"page":        r.Page,
			"page_size":   r.PageSize,
		}
	}
	if r.Entity != nil {
		return map[string]any{"data": r.Entity.ToDict()}
	}
	return map[string]any{"data": nil}
}
