package logic

import (
	"context"
	"testing"
	"time"

	corev1 "k8s.io/api/core/v1"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/client-go/kubernetes/fake"

	"github.com/dogild/garuda/internal/model"
)

func TestK8sProvisioner_PostprocessCreateProvisionsPod(t *testing.T) {
	client := fake.NewSimpleClientset()
	p := NewK8sProvisionerWithClient(K8sProvisionerConfig{
		RestName:       "widget",
		Namespace:      "garuda",
		ContainerImage: "garuda/widget:latest",
	}, client)

	entity := &testEntity{restName: "widget", id: "w-1"}
	rc := model.NewContext(nil, nil)
	rc.Object = entity

	p.Postprocess(context.Background(), model.ActionCreate, rc)

	if rc.Failed() {
		t.Fatalf("Postprocess() recorded errors: %+v", rc.Errors.ToDict())
	}

	pod, err := client.CoreV1().Pods("garuda").Get(context.Background(), "garuda-widget-w-1", metav1.GetOptions{})
	if err != nil {
		t.Fatalf("expected pod to be created, Get() error = %v", err)
	}
	if pod.Spec.Containers[0].Image != "garuda/widget:latest" {
		t.Errorf("container image = %q, want garuda/widget:latest", pod.Spec.Containers[0].Image)
	}
}

func TestK8sProvisioner_PostprocessDeleteRemovesPod(t *testing.T) {
	client := fake.NewSimpleClientset(&corev1.Pod{
		ObjectMeta: metav1.ObjectMeta{Name: "garuda-widget-w-1", Namespace: "garuda"},
	})
	p := NewK8sProvisionerWithClient(K8sProvisionerConfig{RestName: "widget", Namespace: "garuda"}, client)

	entity := &testEntity{restName: "widget", id: "w-1"}
	rc := model.NewContext(nil, nil)
	rc.Object = entity

	p.Postprocess(context.Background(), model.ActionDelete, rc)

	if rc.Failed() {
		t.Fatalf("Postprocess() recorded errors: %+v", rc.Errors.ToDict())
	}
	if _, err := client.CoreV1().Pods("garuda").Get(context.Background(), "garuda-widget-w-1", metav1.GetOptions{}); err == nil {
		t.Fatal("expected pod to be deleted")
	}
}

func TestK8sProvisioner_PostprocessIgnoresOtherRestNames(t *testing.T) {
	client := fake.NewSimpleClientset()
	p := NewK8sProvisionerWithClient(K8sProvisionerConfig{RestName: "widget", Namespace: "garuda"}, client)

	rc := model.NewContext(nil, nil)
	rc.Object = &testEntity{restName: "gadget", id: "g-1"}

	p.Postprocess(context.Background(), model.ActionCreate, rc)

	pods, err := client.CoreV1().Pods("garuda").List(context.Background(), metav1.ListOptions{})
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if len(pods.Items) != 0 {
		t.Errorf("expected no pods provisioned for a non-matching rest name, got %d", len(pods.Items))
	}
}

func TestK8sProvisioner_WaitReadySucceedsWhenPodIsReady(t *testing.T) {
	client := fake.NewSimpleClientset(&corev1.Pod{
		ObjectMeta: metav1.ObjectMeta{Name: "garuda-widget-w-1", Namespace: "garuda"},
		Status: corev1.PodStatus{
			Conditions: []corev1.PodCondition{
				{Type: corev1.PodReady, Status: corev1.ConditionTrue},
			},
		},
	})
	p := NewK8sProvisionerWithClient(K8sProvisionerConfig{RestName: "widget", Namespace: "garuda"}, client)

	entity := &testEntity{restName: "widget", id: "w-1"}
	if err := p.WaitReady(context.Background(), entity, 2*time.Second); err != nil {
		t.Fatalf("WaitReady() error = %v", err)
	}
}

func TestK8sProvisioner_DeleteReturnsClientError(t *testing.T) {
	client := fake.NewSimpleClientset()
	p := NewK8sProvisionerWithClient(K8sProvisionerConfig{RestName: "widget", Namespace: "garuda"}, client)

	entity := &testEntity{restName: "widget", id: "missing"}
	if err := p.Delete(context.Background(), entity); err == nil {
		t.Fatal("Delete() should error when the pod does not exist")
	}
}
