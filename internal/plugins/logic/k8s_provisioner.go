// Package logic holds the reference LogicPlugins: a Kubernetes side-effect
// provisioner and an S3 deletion archiver, showing that logic plugins may
// call arbitrary external systems from pipeline hooks.
package logic

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	corev1 "k8s.io/api/core/v1"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/util/wait"
	"k8s.io/client-go/kubernetes"
	"k8s.io/client-go/rest"
	"k8s.io/client-go/tools/clientcmd"

	"github.com/dogild/garuda/internal/model"
	"github.com/dogild/garuda/internal/plugins"
)

// K8sProvisionerConfig configures which rest name triggers provisioning and
// what image/resources the provisioned pod runs.
type K8sProvisionerConfig struct {
	RestName       string // entities of this rest name get a pod on create
	Namespace      string
	Kubeconfig     string // empty: try in-cluster, then KUBECONFIG/~/.kube/config
	ContainerImage string
	Command        []string
}

// K8sProvisioner is a LogicPlugin whose Postprocess hook provisions a
// Kubernetes pod as a side effect of creating one rest name's entities (and
// deletes that pod when such an entity is deleted),
// grounded on the teacher's internal/k8s/pods.go (BuildPodSpec, CreatePod),
// trimmed of the VNC-sidecar/X11 specifics that have no Garuda counterpart.
type K8sProvisioner struct {
	plugins.Base
	cfg K8sProvisionerConfig

	clientOnce sync.Once
	client     kubernetes.Interface
	clientErr  error
}

// NewK8sProvisioner returns an unconnected provisioner; the client is
// lazily built on first use so registration never requires cluster access.
func NewK8sProvisioner(cfg K8sProvisionerConfig) *K8sProvisioner {
	return newK8sProvisioner(cfg, nil)
}

// NewK8sProvisionerWithClient builds a provisioner against an injected
// client, for tests (e.g. k8s.io/client-go/kubernetes/fake).
func NewK8sProvisionerWithClient(cfg K8sProvisionerConfig, client kubernetes.Interface) *K8sProvisioner {
	return newK8sProvisioner(cfg, client)
}

func newK8sProvisioner(cfg K8sProvisionerConfig, client kubernetes.Interface) *K8sProvisioner {
	if cfg.Namespace == "" {
		cfg.Namespace = "default"
	}
	p := &K8sProvisioner{
		Base:   plugins.NewBase(plugins.Manifest{Name: "k8s.provisioner", Version: "1.0", Identifier: "k8s.provisioner"}),
		cfg:    cfg,
		client: client,
	}
	if client != nil {
		p.clientOnce.Do(func() {})
	}
	return p
}

func (p *K8sProvisioner) getClient() (kubernetes.Interface, error) {
	p.clientOnce.Do(func() {
		config, err := rest.InClusterConfig()
		if err != nil {
			config, err = p.buildConfigFromKubeconfig()
			if err != nil {
				p.clientErr = fmt.Errorf("k8s_provisioner: build config: %w", err)
				return
			}
		}
		p.client, p.clientErr = kubernetes.NewForConfig(config)
	})
	return p.client, p.clientErr
}

func (p *K8sProvisioner) buildConfigFromKubeconfig() (*rest.Config, error) {
	path := p.cfg.Kubeconfig
	if path == "" {
		path = os.Getenv("KUBECONFIG")
	}
	if path == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, err
		}
		path = filepath.Join(home, ".kube", "config")
	}
	return clientcmd.BuildConfigFromFlags("", path)
}

// Postprocess implements plugins.PostprocessHook. It fires after storage
// has executed, so the entity's identifier is already assigned. A create
// provisions the pod; a delete tears it back down.
func (p *K8sProvisioner) Postprocess(ctx context.Context, action model.Action, rc *model.Context) {
	if rc.Object == nil || rc.Object.RestName() != p.cfg.RestName {
		return
	}

	switch action {
	case model.ActionCreate:
		p.create(ctx, rc)
	case model.ActionDelete:
		if err := p.Delete(ctx, rc.Object); err != nil {
			rc.Errors.Add(model.ErrorTypeUnknown, p.cfg.RestName, "Deprovisioning failed", err.Error(), "")
		}
	}
}

func (p *K8sProvisioner) create(ctx context.Context, rc *model.Context) {
	client, err := p.getClient()
	if err != nil {
		rc.Errors.Add(model.ErrorTypeUnknown, p.cfg.RestName, "Provisioning failed", err.Error(), "")
		return
	}

	pod := p.buildPodSpec(rc.Object)
	if _, err := client.CoreV1().Pods(p.cfg.Namespace).Create(ctx, pod, metav1.CreateOptions{}); err != nil {
		rc.Errors.Add(model.ErrorTypeUnknown, p.cfg.RestName, "Provisioning failed", err.Error(), "")
	}
}

func (p *K8sProvisioner) buildPodSpec(entity model.Entity) *corev1.Pod {
	podName := fmt.Sprintf("garuda-%s-%s", entity.RestName(), entity.Identifier())

	return &corev1.Pod{
		ObjectMeta: metav1.ObjectMeta{
			Name:      podName,
			Namespace: p.cfg.Namespace,
			Labels: map[string]string{
				"garuda.io/rest-name": entity.RestName(),
				"garuda.io/entity-id": entity.Identifier(),
			},
			Annotations: map[string]string{
				"garuda.io/created-at": time.Now().UTC().Format(time.RFC3339),
			},
		},
		Spec: corev1.PodSpec{
			RestartPolicy: corev1.RestartPolicyNever,
			SecurityContext: &corev1.PodSecurityContext{
				RunAsNonRoot: boolPtr(true),
				RunAsUser:    int64Ptr(1000),
			},
			Containers: []corev1.Container{
				{
					Name:    "app",
					Image:   p.cfg.ContainerImage,
					Command: p.cfg.Command,
					SecurityContext: &corev1.SecurityContext{
						AllowPrivilegeEscalation: boolPtr(false),
						ReadOnlyRootFilesystem:   boolPtr(false),
						Capabilities: &corev1.Capabilities{
							Drop: []corev1.Capability{"ALL"},
						},
					},
				},
			},
		},
	}
}

// Delete removes the pod provisioned for entity. Called from Postprocess
// on an ActionDelete for p.cfg.RestName.
func (p *K8sProvisioner) Delete(ctx context.Context, entity model.Entity) error {
	client, err := p.getClient()
	if err != nil {
		return err
	}
	podName := fmt.Sprintf("garuda-%s-%s", entity.RestName(), entity.Identifier())
	return client.CoreV1().Pods(p.cfg.Namespace).Delete(ctx, podName, metav1.DeleteOptions{})
}

// WaitReady blocks until the provisioned pod reports Ready or timeout
// elapses, grounded on the teacher's WaitForPodReady.
func (p *K8sProvisioner) WaitReady(ctx context.Context, entity model.Entity, timeout time.Duration) error {
	client, err := p.getClient()
	if err != nil {
		return err
	}
	podName := fmt.Sprintf("garuda-%s-%s", entity.RestName(), entity.Identifier())

	return wait.PollUntilContextTimeout(ctx, 2*time.Second, timeout, true, func(ctx context.Context) (bool, error) {
		pod, err := client.CoreV1().Pods(p.cfg.Namespace).Get(ctx, podName, metav1.GetOptions{})
		if err != nil {
			return false, err
		}
		for _, cond := range pod.Status.Conditions {
			if cond.Type == corev1.PodReady && cond.Status == corev1.ConditionTrue {
				return true, nil
			}
		}
		if pod.Status.Phase == corev1.PodFailed || pod.Status.Phase == corev1.PodSucceeded {
			return false, fmt.Errorf("pod %s is in terminal state %s", podName, pod.Status.Phase)
		}
		return false, nil
	})
}

func boolPtr(b bool) *bool    { return &b }
func int64Ptr(i int64) *int64 { return &i }

var (
	_ plugins.LogicPlugin     = (*K8sProvisioner)(nil)
	_ plugins.PostprocessHook = (*K8sProvisioner)(nil)
)
