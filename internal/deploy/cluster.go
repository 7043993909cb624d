package deploy

import (
	"context"
	"fmt"
	"sort"
	"time"

	appsv1 "k8s.io/api/apps/v1"
	batchv1 "k8s.io/api/batch/v1"
	corev1 "k8s.io/api/core/v1"
	apierrors "k8s.io/apimachinery/pkg/api/errors"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/client-go/kubernetes"
)

// ClusterAPI is the read-and-light-write surface the controller needs
// from the cluster. Manifest application stays with the Runner; this
// interface covers status reads, namespace/configmap management, and
// retention cleanup.
type ClusterAPI interface {
	Reachable(ctx context.Context) error
	EnsureNamespace(ctx context.Context, name string) error
	DeploymentReady(ctx context.Context, namespace, name string) (bool, error)
	StatefulSetReady(ctx context.Context, namespace, name string) (bool, error)
	PodForApp(ctx context.Context, namespace, app string) (string, error)
	ApplyConfigMap(ctx context.Context, namespace, name string, data map[string]string) error
	SupersededReplicaSets(ctx context.Context, namespace string, olderThan time.Duration) ([]string, error)
	CompletedJobs(ctx context.Context, namespace string, olderThan time.Duration) ([]string, error)
	DeleteReplicaSet(ctx context.Context, namespace, name string) error
	DeleteJob(ctx context.Context, namespace, name string) error
	Endpoints(ctx context.Context, namespace string) ([]Endpoint, error)
	ExternalAddress(ctx context.Context, namespace string) (string, error)
}

// Endpoint is one service address inside the cluster.
type Endpoint struct {
	Service string
	Address string
	Port    int32
}

// Cluster implements ClusterAPI over a Kubernetes API client.
type Cluster struct {
	Client kubernetes.Interface
}

// NewCluster wraps a Kubernetes client.
func NewCluster(client kubernetes.Interface) *Cluster {
	return &Cluster{Client: client}
}

// Reachable implements ClusterAPI.
func (c *Cluster) Reachable(ctx context.Context) error {
	_, err := c.Client.Discovery().ServerVersion()
	if err != nil {
		return fmt.Errorf("cluster unreachable: %w", err)
	}
	return nil
}

// EnsureNamespace implements ClusterAPI. Idempotent.
func (c *Cluster) EnsureNamespace(ctx context.Context, name string) error {
	_, err := c.Client.CoreV1().Namespaces().Get(ctx, name, metav1.GetOptions{})
	if err == nil {
		return nil
	}
	if !apierrors.IsNotFound(err) {
		return fmt.Errorf("checking namespace %s: %w", name, err)
	}
	ns := &corev1.Namespace{ObjectMeta: metav1.ObjectMeta{Name: name}}
	if _, err := c.Client.CoreV1().Namespaces().Create(ctx, ns, metav1.CreateOptions{}); err != nil && !apierrors.IsAlreadyExists(err) {
		return fmt.Errorf("creating namespace %s: %w", name, err)
	}
	return nil
}

// DeploymentReady implements ClusterAPI. Ready means the controller
// has observed the latest generation and every replica is updated,
// available, and none are left over from the previous revision.
func (c *Cluster) DeploymentReady(ctx context.Context, namespace, name string) (bool, error) {
	d, err := c.Client.AppsV1().Deployments(namespace).Get(ctx, name, metav1.GetOptions{})
	if err != nil {
		if apierrors.IsNotFound(err) {
			return false, nil
		}
		return false, err
	}
	if d.Status.ObservedGeneration < d.Generation {
		return false, nil
	}
	want := int32(1)
	if d.Spec.Replicas != nil {
		want = *d.Spec.Replicas
	}
	return d.Status.UpdatedReplicas == want &&
		d.Status.ReadyReplicas == want &&
		d.Status.Replicas == want, nil
}

// StatefulSetReady implements ClusterAPI.
func (c *Cluster) StatefulSetReady(ctx context.Context, namespace, name string) (bool, error) {
	s, err := c.Client.AppsV1().StatefulSets(namespace).Get(ctx, name, metav1.GetOptions{})
	if err != nil {
		if apierrors.IsNotFound(err) {
			return false, nil
		}
		return false, err
	}
	if s.Status.ObservedGeneration < s.Generation {
		return false, nil
	}
	want := int32(1)
	if s.Spec.Replicas != nil {
		want = *s.Spec.Replicas
	}
	return s.Status.ReadyReplicas == want && s.Status.UpdatedReplicas == want, nil
}

// PodForApp implements ClusterAPI: returns a running pod labelled
// app=<app>, preferring ready ones.
func (c *Cluster) PodForApp(ctx context.Context, namespace, app string) (string, error) {
	pods, err := c.Client.CoreV1().Pods(namespace).List(ctx, metav1.ListOptions{
		LabelSelector: "app=" + app,
	})
	if err != nil {
		return "", fmt.Errorf("listing pods for %s: %w", app, err)
	}
	var running string
	for _, p := range pods.Items {
		if p.Status.Phase != corev1.PodRunning {
			continue
		}
		if running == "" {
			running = p.Name
		}
		if podReady(&p) {
			return p.Name, nil
		}
	}
	if running != "" {
		return running, nil
	}
	return "", fmt.Errorf("no running pod for app %s in %s", app, namespace)
}

func podReady(p *corev1.Pod) bool {
	for _, cond := range p.Status.Conditions {
		if cond.Type == corev1.PodReady {
			return cond.Status == corev1.ConditionTrue
		}
	}
	return false
}

// ApplyConfigMap implements ClusterAPI. Create-or-update.
func (c *Cluster) ApplyConfigMap(ctx context.Context, namespace, name string, data map[string]string) error {
	cm := &corev1.ConfigMap{
		ObjectMeta: metav1.ObjectMeta{Name: name, Namespace: namespace},
		Data:       data,
	}
	_, err := c.Client.CoreV1().ConfigMaps(namespace).Create(ctx, cm, metav1.CreateOptions{})
	if apierrors.IsAlreadyExists(err) {
		_, err = c.Client.CoreV1().ConfigMaps(namespace).Update(ctx, cm, metav1.UpdateOptions{})
	}
	if err != nil {
		return fmt.Errorf("applying configmap %s/%s: %w", namespace, name, err)
	}
	return nil
}

// SupersededReplicaSets implements ClusterAPI: replica sets scaled to
// zero that have been inactive longer than the retention window.
func (c *Cluster) SupersededReplicaSets(ctx context.Context, namespace string, olderThan time.Duration) ([]string, error) {
	sets, err := c.Client.AppsV1().ReplicaSets(namespace).List(ctx, metav1.ListOptions{})
	if err != nil {
		return nil, fmt.Errorf("listing replica sets: %w", err)
	}
	cutoff := time.Now().Add(-olderThan)
	var names []string
	for _, rs := range sets.Items {
		if superseded(&rs) && rs.CreationTimestamp.Time.Before(cutoff) {
			names = append(names, rs.Name)
		}
	}
	sort.Strings(names)
	return names, nil
}

func superseded(rs *appsv1.ReplicaSet) bool {
	return (rs.Spec.Replicas == nil || *rs.Spec.Replicas == 0) && rs.Status.Replicas == 0
}

// CompletedJobs implements ClusterAPI.
func (c *Cluster) CompletedJobs(ctx context.Context, namespace string, olderThan time.Duration) ([]string, error) {
	jobs, err := c.Client.BatchV1().Jobs(namespace).List(ctx, metav1.ListOptions{})
	if err != nil {
		return nil, fmt.Errorf("listing jobs: %w", err)
	}
	cutoff := time.Now().Add(-olderThan)
	var names []string
	for _, j := range jobs.Items {
		if jobFinished(&j) && j.CreationTimestamp.Time.Before(cutoff) {
			names = append(names, j.Name)
		}
	}
	sort.Strings(names)
	return names, nil
}

func jobFinished(j *batchv1.Job) bool {
	for _, cond := range j.Status.Conditions {
		if (cond.Type == batchv1.JobComplete || cond.Type == batchv1.JobFailed) && cond.Status == corev1.ConditionTrue {
			return true
		}
	}
	return false
}

// DeleteReplicaSet implements ClusterAPI. Orphan propagation: pods, if
// any remain, are left for their owning controller to reconcile.
func (c *Cluster) DeleteReplicaSet(ctx context.Context, namespace, name string) error {
	orphan := metav1.DeletePropagationOrphan
	return c.Client.AppsV1().ReplicaSets(namespace).Delete(ctx, name, metav1.DeleteOptions{
		PropagationPolicy: &orphan,
	})
}

// DeleteJob implements ClusterAPI.
func (c *Cluster) DeleteJob(ctx context.Context, namespace, name string) error {
	orphan := metav1.DeletePropagationOrphan
	return c.Client.BatchV1().Jobs(namespace).Delete(ctx, name, metav1.DeleteOptions{
		PropagationPolicy: &orphan,
	})
}

// Endpoints implements ClusterAPI: cluster-internal service addresses.
func (c *Cluster) Endpoints(ctx context.Context, namespace string) ([]Endpoint, error) {
	svcs, err := c.Client.CoreV1().Services(namespace).List(ctx, metav1.ListOptions{})
	if err != nil {
		return nil, fmt.Errorf("listing services: %w", err)
	}
	var eps []Endpoint
	for _, s := range svcs.Items {
		ep := Endpoint{Service: s.Name, Address: s.Spec.ClusterIP}
		if len(s.Spec.Ports) > 0 {
			ep.Port = s.Spec.Ports[0].Port
		}
		eps = append(eps, ep)
	}
	sort.Slice(eps, func(i, j int) bool { return eps[i].Service < eps[j].Service })
	return eps, nil
}

// ExternalAddress implements ClusterAPI: the first ingress hostname or
// load-balancer address exposed by the environment, empty when none.
func (c *Cluster) ExternalAddress(ctx context.Context, namespace string) (string, error) {
	ings, err := c.Client.NetworkingV1().Ingresses(namespace).List(ctx, metav1.ListOptions{})
	if err != nil {
		return "", fmt.Errorf("listing ingresses: %w", err)
	}
	for _, ing := range ings.Items {
		for _, rule := range ing.Spec.Rules {
			if rule.Host != "" {
				return rule.Host, nil
			}
		}
		for _, lb := range ing.Status.LoadBalancer.Ingress {
			if lb.Hostname != "" {
				return lb.Hostname, nil
			}
			if lb.IP != "" {
				return lb.IP, nil
			}
		}
	}
	svcs, err := c.Client.CoreV1().Services(namespace).List(ctx, metav1.ListOptions{})
	if err != nil {
		return "", fmt.Errorf("listing services: %w", err)
	}
	for _, s := range svcs.Items {
		for _, lb := range s.Status.LoadBalancer.Ingress {
			if lb.Hostname != "" {
				return lb.Hostname, nil
			}
			if lb.IP != "" {
				return lb.IP, nil
			}
		}
	}
	return "", nil
}
