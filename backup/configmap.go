package backup

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"log/slog"
	"regexp"
	"strings"
	"time"

	corev1 "k8s.io/api/core/v1"
	apierrors "k8s.io/apimachinery/pkg/api/errors"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/labels"
	"k8s.io/client-go/kubernetes"
	"k8s.io/client-go/rest"

	"jabberwocky238/bindzone/internal/types"
)

const (
	dataKey = "zone"

	labelManagedBy = "app.kubernetes.io/managed-by"
	labelZone      = "bindzone.io/zone"

	annotationSnapshot = "bindzone.io/snapshot"
	annotationBase     = "bindzone.io/base"
	annotationTime     = "bindzone.io/time"
)

var invalidNameChars = regexp.MustCompile(`[^a-z0-9.-]+`)

// ConfigMapStore keeps each snapshot in its own ConfigMap so that backups
// survive the loss of the pod's filesystem.
type ConfigMapStore struct {
	client    kubernetes.Interface
	namespace string
	prefix    string
}

// NewConfigMapStore creates a store that writes ConfigMaps named
// "<prefix>-<snapshot>" into namespace.
func NewConfigMapStore(client kubernetes.Interface, namespace, prefix string) *ConfigMapStore {
	if prefix == "" {
		prefix = "bindzone-backup"
	}
	return &ConfigMapStore{client: client, namespace: namespace, prefix: prefix}
}

// NewK8sClient creates a Kubernetes client using in-cluster configuration.
// This function must be called from within a Kubernetes pod.
func NewK8sClient() (kubernetes.Interface, error) {
	config, err := rest.InClusterConfig()
	if err != nil {
		return nil, fmt.Errorf("failed to get in-cluster config: %w", err)
	}

	clientset, err := kubernetes.NewForConfig(config)
	if err != nil {
		return nil, fmt.Errorf("failed to create clientset: %w", err)
	}

	return clientset, nil
}

// Save creates a ConfigMap for the snapshot. Name collisions within the
// same second move on to the next "_N" suffix.
func (s *ConfigMapStore) Save(ctx context.Context, base string, data []byte, at time.Time) (Snapshot, error) {
	for seq := 0; seq < maxSameSecond; seq++ {
		name := SnapshotName(base, at, seq)
		cm := &corev1.ConfigMap{
			ObjectMeta: metav1.ObjectMeta{
				Name:      s.objectName(name),
				Namespace: s.namespace,
				Labels: map[string]string{
					labelManagedBy: "bindzone",
					labelZone:      labelValue(base),
				},
				Annotations: map[string]string{
					annotationSnapshot: name,
					annotationBase:     base,
					annotationTime:     at.Format(time.RFC3339),
				},
			},
			BinaryData: map[string][]byte{dataKey: data},
		}

		_, err := s.client.CoreV1().ConfigMaps(s.namespace).Create(ctx, cm, metav1.CreateOptions{})
		if apierrors.IsAlreadyExists(err) {
			continue
		}
		if err != nil {
			return Snapshot{}, fmt.Errorf("create configmap: %w", err)
		}

		slog.Debug("stored snapshot in configmap", "snapshot", name, "configmap", cm.Name)
		snap, _ := ParseName(base, name)
		snap.Size = int64(len(data))
		return snap, nil
	}
	return Snapshot{}, fmt.Errorf("too many snapshots of %s at %s", base, at.Format(TimeLayout))
}

// Load fetches the snapshot's ConfigMap and returns its payload.
func (s *ConfigMapStore) Load(ctx context.Context, name string) ([]byte, error) {
	cm, err := s.client.CoreV1().ConfigMaps(s.namespace).Get(ctx, s.objectName(name), metav1.GetOptions{})
	if apierrors.IsNotFound(err) {
		return nil, fmt.Errorf("%s: %w", name, types.ErrSnapshotNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get configmap: %w", err)
	}
	data, ok := cm.BinaryData[dataKey]
	if !ok {
		raw, ok := cm.Data[dataKey]
		if !ok {
			return nil, fmt.Errorf("key %q not found in configmap %s/%s", dataKey, cm.Namespace, cm.Name)
		}
		data = []byte(raw)
	}
	return data, nil
}

// List returns the snapshots of base recorded in the namespace.
func (s *ConfigMapStore) List(ctx context.Context, base string) ([]Snapshot, error) {
	selector := labels.SelectorFromSet(labels.Set{
		labelManagedBy: "bindzone",
		labelZone:      labelValue(base),
	})
	list, err := s.client.CoreV1().ConfigMaps(s.namespace).List(ctx, metav1.ListOptions{
		LabelSelector: selector.String(),
	})
	if err != nil {
		return nil, fmt.Errorf("list configmaps: %w", err)
	}

	var snaps []Snapshot
	for _, cm := range list.Items {
		if cm.Annotations[annotationBase] != base {
			continue
		}
		snap, ok := ParseName(base, cm.Annotations[annotationSnapshot])
		if !ok {
			continue
		}
		if t, err := time.Parse(time.RFC3339, cm.Annotations[annotationTime]); err == nil {
			snap.Time = t
		}
		snap.Size = int64(len(cm.BinaryData[dataKey]))
		snaps = append(snaps, snap)
	}
	SortNewestFirst(snaps)
	return snaps, nil
}

// Delete removes the snapshot's ConfigMap. A missing ConfigMap is not an
// error.
func (s *ConfigMapStore) Delete(ctx context.Context, name string) error {
	err := s.client.CoreV1().ConfigMaps(s.namespace).Delete(ctx, s.objectName(name), metav1.DeleteOptions{})
	if err != nil && !apierrors.IsNotFound(err) {
		return fmt.Errorf("delete configmap: %w", err)
	}
	return nil
}

// objectName maps a snapshot name onto a valid ConfigMap name.
func (s *ConfigMapStore) objectName(snapshot string) string {
	name := s.prefix + "-" + invalidNameChars.ReplaceAllString(strings.ToLower(snapshot), "-")
	if len(name) > 253 {
		sum := sha256.Sum256([]byte(snapshot))
		name = name[:253-17] + "-" + hex.EncodeToString(sum[:8])
	}
	return strings.Trim(name, ".-")
}

// labelValue maps a zone file basename onto a valid label value.
func labelValue(base string) string {
	v := invalidNameChars.ReplaceAllString(strings.ToLower(base), "-")
	if len(v) > 63 {
		sum := sha256.Sum256([]byte(base))
		v = v[:63-9] + "-" + hex.EncodeToString(sum[:4])
	}
	return strings.Trim(v, ".-")
}
