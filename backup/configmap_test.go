package backup

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"jabberwocky238/bindzone/internal/types"

	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/client-go/kubernetes/fake"
)

func TestConfigMapStore_SaveAndLoad(t *testing.T) {
	ctx := context.Background()
	client := fake.NewSimpleClientset()
	store := NewConfigMapStore(client, "dns", "bindzone-backup")

	at := time.Date(2024, time.January, 15, 9, 0, 0, 0, time.Local)
	snap, err := store.Save(ctx, "db.example.com", []byte("zone data\n"), at)
	if err != nil {
		t.Fatalf("Save() error = %v", err)
	}
	if snap.Name != "db.example.com.20240115_090000" {
		t.Errorf("Save() name = %q", snap.Name)
	}

	cm, err := client.CoreV1().ConfigMaps("dns").Get(ctx, "bindzone-backup-db.example.com.20240115-090000", metav1.GetOptions{})
	if err != nil {
		t.Fatalf("configmap not created: %v", err)
	}
	if cm.Labels[labelZone] != "db.example.com" {
		t.Errorf("zone label = %q", cm.Labels[labelZone])
	}

	data, err := store.Load(ctx, snap.Name)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if string(data) != "zone data\n" {
		t.Errorf("Load() = %q", data)
	}
}

func TestConfigMapStore_SameSecond(t *testing.T) {
	ctx := context.Background()
	store := NewConfigMapStore(fake.NewSimpleClientset(), "dns", "")

	at := time.Date(2024, time.January, 15, 9, 0, 0, 0, time.Local)
	var names []string
	for i := 0; i < 3; i++ {
		snap, err := store.Save(ctx, "db.example.com", []byte{byte('a' + i)}, at)
		if err != nil {
			t.Fatalf("Save() #%d error = %v", i, err)
		}
		names = append(names, snap.Name)
	}

	want := []string{
		"db.example.com.20240115_090000",
		"db.example.com.20240115_090000_1",
		"db.example.com.20240115_090000_2",
	}
	for i := range want {
		if names[i] != want[i] {
			t.Errorf("name[%d] = %q, want %q", i, names[i], want[i])
		}
	}

	snaps, err := store.List(ctx, "db.example.com")
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if len(snaps) != 3 {
		t.Fatalf("List() returned %d snapshots, want 3", len(snaps))
	}
	if snaps[0].Name != want[2] {
		t.Errorf("newest = %q, want %q", snaps[0].Name, want[2])
	}
}

func TestConfigMapStore_ListFiltersZone(t *testing.T) {
	ctx := context.Background()
	store := NewConfigMapStore(fake.NewSimpleClientset(), "dns", "")
	at := time.Now()

	if _, err := store.Save(ctx, "db.example.com", []byte("a"), at); err != nil {
		t.Fatal(err)
	}
	if _, err := store.Save(ctx, "db.example.org", []byte("b"), at); err != nil {
		t.Fatal(err)
	}

	snaps, err := store.List(ctx, "db.example.org")
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if len(snaps) != 1 || !strings.HasPrefix(snaps[0].Name, "db.example.org.") {
		t.Errorf("List() = %+v", snaps)
	}
}

func TestConfigMapStore_Delete(t *testing.T) {
	ctx := context.Background()
	store := NewConfigMapStore(fake.NewSimpleClientset(), "dns", "")

	snap, err := store.Save(ctx, "db.example.com", []byte("a"), time.Now())
	if err != nil {
		t.Fatal(err)
	}
	if err := store.Delete(ctx, snap.Name); err != nil {
		t.Fatalf("Delete() error = %v", err)
	}
	if err := store.Delete(ctx, snap.Name); err != nil {
		t.Fatalf("second Delete() error = %v", err)
	}
	if _, err := store.Load(ctx, snap.Name); !errors.Is(err, types.ErrSnapshotNotFound) {
		t.Errorf("Load() after delete error = %v, want ErrSnapshotNotFound", err)
	}
}

func TestLabelValue(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"db.example.com", "db.example.com"},
		{"DB_Example.COM", "db-example.com"},
		{"-zone-", "zone"},
	}
	for _, tt := range tests {
		if got := labelValue(tt.in); got != tt.want {
			t.Errorf("labelValue(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
	long := strings.Repeat("a", 100)
	if got := labelValue(long); len(got) > 63 {
		t.Errorf("labelValue(long) length = %d", len(got))
	}
}
