package deploy

import (
	"context"
	"testing"
	"time"

	appsv1 "k8s.io/api/apps/v1"
	batchv1 "k8s.io/api/batch/v1"
	corev1 "k8s.io/api/core/v1"
	networkingv1 "k8s.io/api/networking/v1"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/client-go/kubernetes/fake"
)

func int32ptr(n int32) *int32 { return &n }

func TestDeploymentReady(t *testing.T) {
	tests := []struct {
		name string
		d    appsv1.Deployment
		want bool
	}{
		{
			name: "all replicas updated and ready",
			d: appsv1.Deployment{
				ObjectMeta: metav1.ObjectMeta{Name: "api", Namespace: "prod", Generation: 3},
				Spec:       appsv1.DeploymentSpec{Replicas: int32ptr(2)},
				Status: appsv1.DeploymentStatus{
					ObservedGeneration: 3,
					Replicas:           2,
					UpdatedReplicas:    2,
					ReadyReplicas:      2,
				},
			},
			want: true,
		},
		{
			name: "stale generation",
			d: appsv1.Deployment{
				ObjectMeta: metav1.ObjectMeta{Name: "api", Namespace: "prod", Generation: 4},
				Spec:       appsv1.DeploymentSpec{Replicas: int32ptr(2)},
				Status: appsv1.DeploymentStatus{
					ObservedGeneration: 3,
					Replicas:           2,
					UpdatedReplicas:    2,
					ReadyReplicas:      2,
				},
			},
			want: false,
		},
		{
			name: "old replicas still draining",
			d: appsv1.Deployment{
				ObjectMeta: metav1.ObjectMeta{Name: "api", Namespace: "prod", Generation: 3},
				Spec:       appsv1.DeploymentSpec{Replicas: int32ptr(2)},
				Status: appsv1.DeploymentStatus{
					ObservedGeneration: 3,
					Replicas:           3,
					UpdatedReplicas:    2,
					ReadyReplicas:      2,
				},
			},
			want: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cluster := NewCluster(fake.NewSimpleClientset(&tt.d))
			got, err := cluster.DeploymentReady(context.Background(), "prod", "api")
			if err != nil {
				t.Fatalf("DeploymentReady: %v", err)
			}
			if got != tt.want {
				t.Errorf("ready = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestDeploymentReadyAbsent(t *testing.T) {
	cluster := NewCluster(fake.NewSimpleClientset())
	ready, err := cluster.DeploymentReady(context.Background(), "prod", "missing")
	if err != nil {
		t.Fatalf("absent deployment must not error: %v", err)
	}
	if ready {
		t.Error("absent deployment reported ready")
	}
}

func TestEnsureNamespaceIdempotent(t *testing.T) {
	cluster := NewCluster(fake.NewSimpleClientset())
	for i := 0; i < 2; i++ {
		if err := cluster.EnsureNamespace(context.Background(), "stackpilot-prod"); err != nil {
			t.Fatalf("EnsureNamespace attempt %d: %v", i+1, err)
		}
	}
	if _, err := cluster.Client.CoreV1().Namespaces().Get(context.Background(), "stackpilot-prod", metav1.GetOptions{}); err != nil {
		t.Fatalf("namespace missing after ensure: %v", err)
	}
}

func TestPodForAppPrefersReady(t *testing.T) {
	running := corev1.PodStatus{Phase: corev1.PodRunning}
	ready := corev1.PodStatus{
		Phase: corev1.PodRunning,
		Conditions: []corev1.PodCondition{
			{Type: corev1.PodReady, Status: corev1.ConditionTrue},
		},
	}
	client := fake.NewSimpleClientset(
		&corev1.Pod{
			ObjectMeta: metav1.ObjectMeta{Name: "api-1", Namespace: "prod", Labels: map[string]string{"app": "api"}},
			Status:     running,
		},
		&corev1.Pod{
			ObjectMeta: metav1.ObjectMeta{Name: "api-2", Namespace: "prod", Labels: map[string]string{"app": "api"}},
			Status:     ready,
		},
	)
	cluster := NewCluster(client)

	pod, err := cluster.PodForApp(context.Background(), "prod", "api")
	if err != nil {
		t.Fatalf("PodForApp: %v", err)
	}
	if pod != "api-2" {
		t.Errorf("pod = %q, want the ready one", pod)
	}
}

func TestPodForAppNoneRunning(t *testing.T) {
	cluster := NewCluster(fake.NewSimpleClientset())
	if _, err := cluster.PodForApp(context.Background(), "prod", "api"); err == nil {
		t.Fatal("expected error with no running pods")
	}
}

func TestApplyConfigMapCreateThenUpdate(t *testing.T) {
	cluster := NewCluster(fake.NewSimpleClientset())
	ctx := context.Background()

	if err := cluster.ApplyConfigMap(ctx, "monitoring", "stackpilot-alerts", map[string]string{"alerts.yaml": "groups: []"}); err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := cluster.ApplyConfigMap(ctx, "monitoring", "stackpilot-alerts", map[string]string{"alerts.yaml": "groups: [x]"}); err != nil {
		t.Fatalf("update: %v", err)
	}

	cm, err := cluster.Client.CoreV1().ConfigMaps("monitoring").Get(ctx, "stackpilot-alerts", metav1.GetOptions{})
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if cm.Data["alerts.yaml"] != "groups: [x]" {
		t.Errorf("configmap not updated: %q", cm.Data["alerts.yaml"])
	}
}

func TestSupersededReplicaSetsHonorsRetention(t *testing.T) {
	old := metav1.NewTime(time.Now().Add(-48 * time.Hour))
	recent := metav1.NewTime(time.Now().Add(-time.Hour))
	client := fake.NewSimpleClientset(
		&appsv1.ReplicaSet{
			ObjectMeta: metav1.ObjectMeta{Name: "api-old", Namespace: "prod", CreationTimestamp: old},
			Spec:       appsv1.ReplicaSetSpec{Replicas: int32ptr(0)},
		},
		&appsv1.ReplicaSet{
			ObjectMeta: metav1.ObjectMeta{Name: "api-recent", Namespace: "prod", CreationTimestamp: recent},
			Spec:       appsv1.ReplicaSetSpec{Replicas: int32ptr(0)},
		},
		&appsv1.ReplicaSet{
			ObjectMeta: metav1.ObjectMeta{Name: "api-live", Namespace: "prod", CreationTimestamp: old},
			Spec:       appsv1.ReplicaSetSpec{Replicas: int32ptr(2)},
			Status:     appsv1.ReplicaSetStatus{Replicas: 2},
		},
	)
	cluster := NewCluster(client)

	names, err := cluster.SupersededReplicaSets(context.Background(), "prod", 24*time.Hour)
	if err != nil {
		t.Fatalf("SupersededReplicaSets: %v", err)
	}
	if len(names) != 1 || names[0] != "api-old" {
		t.Errorf("names = %v, want [api-old]", names)
	}
}

func TestCompletedJobsHonorsRetention(t *testing.T) {
	old := metav1.NewTime(time.Now().Add(-48 * time.Hour))
	client := fake.NewSimpleClientset(
		&batchv1.Job{
			ObjectMeta: metav1.ObjectMeta{Name: "migrate-1", Namespace: "prod", CreationTimestamp: old},
			Status: batchv1.JobStatus{Conditions: []batchv1.JobCondition{
				{Type: batchv1.JobComplete, Status: corev1.ConditionTrue},
			}},
		},
		&batchv1.Job{
			ObjectMeta: metav1.ObjectMeta{Name: "migrate-2", Namespace: "prod", CreationTimestamp: old},
		},
	)
	cluster := NewCluster(client)

	names, err := cluster.CompletedJobs(context.Background(), "prod", 24*time.Hour)
	if err != nil {
		t.Fatalf("CompletedJobs: %v", err)
	}
	if len(names) != 1 || names[0] != "migrate-1" {
		t.Errorf("names = %v, want [migrate-1]", names)
	}
}

func TestExternalAddress(t *testing.T) {
	t.Run("ingress host wins", func(t *testing.T) {
		client := fake.NewSimpleClientset(&networkingv1.Ingress{
			ObjectMeta: metav1.ObjectMeta{Name: "app", Namespace: "prod"},
			Spec: networkingv1.IngressSpec{Rules: []networkingv1.IngressRule{
				{Host: "app.example.com"},
			}},
		})
		addr, err := NewCluster(client).ExternalAddress(context.Background(), "prod")
		if err != nil {
			t.Fatalf("ExternalAddress: %v", err)
		}
		if addr != "app.example.com" {
			t.Errorf("addr = %q", addr)
		}
	})

	t.Run("falls back to service load balancer", func(t *testing.T) {
		client := fake.NewSimpleClientset(&corev1.Service{
			ObjectMeta: metav1.ObjectMeta{Name: "api", Namespace: "prod"},
			Status: corev1.ServiceStatus{LoadBalancer: corev1.LoadBalancerStatus{
				Ingress: []corev1.LoadBalancerIngress{{IP: "203.0.113.7"}},
			}},
		})
		addr, err := NewCluster(client).ExternalAddress(context.Background(), "prod")
		if err != nil {
			t.Fatalf("ExternalAddress: %v", err)
		}
		if addr != "203.0.113.7" {
			t.Errorf("addr = %q", addr)
		}
	})

	t.Run("empty when nothing exposed", func(t *testing.T) {
		addr, err := NewCluster(fake.NewSimpleClientset()).ExternalAddress(context.Background(), "prod")
		if err != nil {
			t.Fatalf("ExternalAddress: %v", err)
		}
		if addr != "" {
			t.Errorf("addr = %q, want empty", addr)
		}
	})
}
