package core

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/dogild/garuda/internal/logic"
	"github.com/dogild/garuda/internal/model"
	"github.com/dogild/garuda/internal/operations"
	"github.com/dogild/garuda/internal/permissions"
	"github.com/dogild/garuda/internal/plugins"
	permissionplugins "github.com/dogild/garuda/internal/plugins/permissions"
	storageplugins "github.com/dogild/garuda/internal/plugins/storage"
	"github.com/dogild/garuda/internal/push"
	"github.com/dogild/garuda/internal/redisstore"
	"github.com/dogild/garuda/internal/sdk"
	"github.com/dogild/garuda/internal/sessions"
	"github.com/dogild/garuda/internal/storage"
)

// TestScenarios runs the six end-to-end scenarios named against an
// in-memory storage plugin, the fake auth plugin and a miniredis-backed
// session/push stack, grounded on
// original_source/tests/core/controllers/test_push_controller.py.
func TestScenarios(t *testing.T) {
	RegisterFailHandler(Fail)
	RunSpecs(t, "Core Controller Scenarios")
}

var _ = Describe("Core Controller", func() {
	var (
		ctl *Controller
		mr  *miniredis.Miniredis
		rdb *redisstore.Store
		ctx context.Context
	)

	BeforeEach(func() {
		ctx = context.Background()

		var err error
		mr, err = miniredis.Run()
		Expect(err).NotTo(HaveOccurred())
		DeferCleanup(mr.Close)

		rdb, err = redisstore.Open(ctx, redisstore.Config{Addr: mr.Addr()})
		Expect(err).NotTo(HaveOccurred())
		DeferCleanup(rdb.Close)

		library := sdk.NewLibrary()
		library.Register(sdk.DefaultIdentifier, &sdk.Bundle{
			RootObjectFactory: func() model.Entity { return &principal{} },
			Resolve: func(restName string) (sdk.EntityFactory, bool) {
				switch restName {
				case "users":
					return func() model.Entity { return &principal{} }, true
				case "enterprises":
					return func() model.Entity { return &enterprise{} }, true
				}
				return nil, false
			},
		})

		registry := plugins.NewRegistry()
		registry.RegisterStorage(storageplugins.NewMemoryStorage(library, "enterprises"))
		registry.RegisterPermissions(permissionplugins.NewOwnerPlugin())
		registry.RegisterAuthentication(newFakeAuthPlugin())
		registry.RegisterLogic(&ownerDefaultingLogic{Base: plugins.NewBase(plugins.Manifest{Identifier: "owner.default"})})

		storageCtl := storage.NewController(registry)
		permissionsCtl := permissions.NewController(registry)
		logicCtl := logic.NewController(registry, logic.DefaultDeadline)
		operationsCtl := operations.NewController(storageCtl, permissionsCtl, logicCtl)
		sessionsCtl := sessions.NewController(rdb, library, 1*time.Second)
		pushCtl := push.NewController(rdb.Client, permissionsCtl)

		ctl = NewController("worker-1", registry, operationsCtl, sessionsCtl, pushCtl)
	})

	It("authenticates then creates a child resource owned by the authenticated principal", func() {
		authResp := ctl.ExecuteModelRequest(ctx, &model.Request{Method: "POST", Token: "tok"}, "/enterprises")
		Expect(authResp.Success).To(BeTrue())
		Expect(authResp.Entity.RestName()).To(Equal("users"))

		sessionUUID := ctl.sessions.AllSessions(ctx)[0].UUID
		createReq := &model.Request{
			Method:  "POST",
			Data:    map[string]any{"name": "acme"},
			Headers: map[string]string{"X-Session": sessionUUID},
		}
		createResp := ctl.ExecuteModelRequest(ctx, createReq, "/enterprises")
		Expect(createResp.Success).To(BeTrue())
		Expect(createResp.Entity.ToDict()["name"]).To(Equal("acme"))
		Expect(createResp.Entity.Owner()).To(Equal("user"))

		queueLen, err := rdb.Client.LLen(ctx, "eventqueue:sessions:"+sessionUUID).Result()
		Expect(err).NotTo(HaveOccurred())
		Expect(queueLen).To(Equal(int64(1)))
	})

	It("rejects an unauthenticated read with UNAUTHORIZED", func() {
		resp := ctl.ExecuteModelRequest(ctx, &model.Request{Method: "GET"}, "/enterprises")
		Expect(resp.Success).To(BeFalse())
		Expect(resp.Status).To(Equal(model.ErrorTypeUnauthorized))
	})

	It("paginates a read-all across three enterprises", func() {
		sessionUUID := createSession(ctx, ctl, "tok-a")
		for _, name := range []string{"one", "two", "three"} {
			req := &model.Request{Method: "POST", Data: map[string]any{"name": name}, Headers: map[string]string{"X-Session": sessionUUID}}
			Expect(ctl.ExecuteModelRequest(ctx, req, "/enterprises").Success).To(BeTrue())
		}

		listReq := &model.Request{
			Method:     "GET",
			Parameters: map[string]string{"page": "0", "page_size": "2"},
			Headers:    map[string]string{"X-Session": sessionUUID},
		}
		resp := ctl.ExecuteModelRequest(ctx, listReq, "/enterprises")
		Expect(resp.Success).To(BeTrue())
		Expect(resp.Entities).To(HaveLen(2))
		Expect(resp.TotalCount).To(Equal(3))
	})

	It("rejects an update whose body changes nothing with CONFLICT", func() {
		sessionUUID := createSession(ctx, ctl, "tok-b")
		createReq := &model.Request{Method: "POST", Data: map[string]any{"name": "acme"}, Headers: map[string]string{"X-Session": sessionUUID}}
		createResp := ctl.ExecuteModelRequest(ctx, createReq, "/enterprises")
		Expect(createResp.Success).To(BeTrue())
		id := createResp.Entity.Identifier()

		updateReq := &model.Request{
			Method:  "PUT",
			Data:    createResp.Entity.ToDict(),
			Headers: map[string]string{"X-Session": sessionUUID},
		}
		updateResp := ctl.ExecuteModelRequest(ctx, updateReq, "/enterprises/"+id)
		Expect(updateResp.Success).To(BeFalse())
		Expect(updateResp.Status).To(Equal(model.ErrorTypeConflict))
	})

	It("deletes an enterprise so it is no longer retrievable", func() {
		sessionUUID := createSession(ctx, ctl, "tok-c")
		createReq := &model.Request{Method: "POST", Data: map[string]any{"name": "acme"}, Headers: map[string]string{"X-Session": sessionUUID}}
		createResp := ctl.ExecuteModelRequest(ctx, createReq, "/enterprises")
		Expect(createResp.Success).To(BeTrue())
		id := createResp.Entity.Identifier()

		deleteReq := &model.Request{Method: "DELETE", Headers: map[string]string{"X-Session": sessionUUID}}
		deleteResp := ctl.ExecuteModelRequest(ctx, deleteReq, "/enterprises/"+id)
		Expect(deleteResp.Success).To(BeTrue())

		getReq := &model.Request{Method: "GET", Headers: map[string]string{"X-Session": sessionUUID}}
		getResp := ctl.ExecuteModelRequest(ctx, getReq, "/enterprises/"+id)
		Expect(getResp.Success).To(BeFalse())
		Expect(getResp.Status).To(Equal(model.ErrorTypeNotFound))
	})

	It("flushes a session's event queue on expiry", func() {
		Expect(ctl.Start(ctx)).To(Succeed())
		DeferCleanup(ctl.Stop)

		sessionUUID := createSession(ctx, ctl, "tok-d")
		createReq := &model.Request{Method: "POST", Data: map[string]any{"name": "acme"}, Headers: map[string]string{"X-Session": sessionUUID}}
		Expect(ctl.ExecuteModelRequest(ctx, createReq, "/enterprises").Success).To(BeTrue())

		queueKey := "eventqueue:sessions:" + sessionUUID
		n, err := rdb.Client.LLen(ctx, queueKey).Result()
		Expect(err).NotTo(HaveOccurred())
		Expect(n).To(Equal(int64(1)))

		mr.FastForward(2 * time.Second)

		Eventually(func() int64 {
			n, _ := rdb.Client.LLen(ctx, queueKey).Result()
			return n
		}).WithTimeout(2 * time.Second).Should(Equal(int64(0)))
	})
})

// createSession authenticates token and returns the resulting session's
// UUID, used to skip the first-contact ceremony in scenarios that only
// care about the established-session path.
func createSession(ctx context.Context, ctl *Controller, token string) string {
	resp := ctl.ExecuteModelRequest(ctx, &model.Request{Method: "POST", Token: token}, "/enterprises")
	ExpectWithOffset(1, resp.Success).To(BeTrue())
	liveSessions := ctl.sessions.AllSessions(ctx)
	return liveSessions[len(liveSessions)-1].UUID
}
