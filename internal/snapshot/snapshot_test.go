package snapshot

import (
	"bytes"
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"

	"medialib/internal/config"
)

// testVault runs the behaviour every Vault must share.
func testVault(t *testing.T, newVault func(t *testing.T) Vault) {
	ctx := context.Background()

	t.Run("version is zero before any put", func(t *testing.T) {
		v := newVault(t)
		got, err := v.Version(ctx, "media-1")
		if err != nil {
			t.Fatalf("Version() error = %v", err)
		}
		if got != 0 {
			t.Errorf("Version() = %d, want 0", got)
		}
	})

	t.Run("get missing snapshot", func(t *testing.T) {
		v := newVault(t)
		var buf bytes.Buffer
		err := v.Get(ctx, "media-1", &buf)
		if !errors.Is(err, ErrNotFound) {
			t.Errorf("Get() error = %v, want ErrNotFound", err)
		}
	})

	t.Run("put then get", func(t *testing.T) {
		v := newVault(t)
		data := "SQLite format 3\x00 snapshot body"
		if err := v.Put(ctx, "media-1", strings.NewReader(data), int64(len(data)), 7); err != nil {
			t.Fatalf("Put() error = %v", err)
		}

		var buf bytes.Buffer
		if err := v.Get(ctx, "media-1", &buf); err != nil {
			t.Fatalf("Get() error = %v", err)
		}
		if buf.String() != data {
			t.Errorf("Get() = %q, want %q", buf.String(), data)
		}

		got, err := v.Version(ctx, "media-1")
		if err != nil {
			t.Fatalf("Version() error = %v", err)
		}
		if got != 7 {
			t.Errorf("Version() = %d, want 7", got)
		}
	})

	t.Run("put replaces previous snapshot", func(t *testing.T) {
		v := newVault(t)
		if err := v.Put(ctx, "media-1", strings.NewReader("old"), 3, 1); err != nil {
			t.Fatalf("Put() error = %v", err)
		}
		if err := v.Put(ctx, "media-1", strings.NewReader("newer"), 5, 2); err != nil {
			t.Fatalf("Put() error = %v", err)
		}

		var buf bytes.Buffer
		if err := v.Get(ctx, "media-1", &buf); err != nil {
			t.Fatalf("Get() error = %v", err)
		}
		if buf.String() != "newer" {
			t.Errorf("Get() = %q, want %q", buf.String(), "newer")
		}
		if got, _ := v.Version(ctx, "media-1"); got != 2 {
			t.Errorf("Version() = %d, want 2", got)
		}
	})

	t.Run("instances are separate", func(t *testing.T) {
		v := newVault(t)
		if err := v.Put(ctx, "media-1", strings.NewReader("one"), 3, 4); err != nil {
			t.Fatalf("Put() error = %v", err)
		}
		if got, _ := v.Version(ctx, "media-2"); got != 0 {
			t.Errorf("Version(media-2) = %d, want 0", got)
		}
	})

	t.Run("size mismatch", func(t *testing.T) {
		v := newVault(t)
		err := v.Put(ctx, "media-1", strings.NewReader("short"), 100, 1)
		if err == nil {
			t.Fatal("Put() expected size mismatch error")
		}
		if got, _ := v.Version(ctx, "media-1"); got != 0 {
			t.Errorf("Version() after failed put = %d, want 0", got)
		}
	})

	t.Run("validate setup", func(t *testing.T) {
		v := newVault(t)
		if err := v.ValidateSetup(ctx); err != nil {
			t.Errorf("ValidateSetup() error = %v", err)
		}
	})
}

func TestMemoryVault(t *testing.T) {
	testVault(t, func(t *testing.T) Vault { return NewMemoryVault("mem") })
}

func TestFileSystemVault(t *testing.T) {
	testVault(t, func(t *testing.T) Vault {
		v, err := NewFileSystemVault("local", filepath.Join(t.TempDir(), "vault"))
		if err != nil {
			t.Fatalf("NewFileSystemVault() error = %v", err)
		}
		return v
	})
}

func TestFileSystemVault_NoTempFilesLeft(t *testing.T) {
	root := t.TempDir()
	v, err := NewFileSystemVault("local", root)
	if err != nil {
		t.Fatalf("NewFileSystemVault() error = %v", err)
	}
	ctx := context.Background()
	v.Put(ctx, "media-1", strings.NewReader("short"), 100, 1)
	if err := v.Put(ctx, "media-1", strings.NewReader("ok"), 2, 1); err != nil {
		t.Fatalf("Put() error = %v", err)
	}

	entries, err := os.ReadDir(root)
	if err != nil {
		t.Fatalf("ReadDir() error = %v", err)
	}
	var names []string
	for _, e := range entries {
		names = append(names, e.Name())
	}
	if len(names) != 2 || names[0] != "media-1.db" || names[1] != "media-1.version" {
		t.Errorf("vault files = %v, want [media-1.db media-1.version]", names)
	}
}

func TestFileSystemVault_ValidateSetup_NotDirectory(t *testing.T) {
	root := t.TempDir()
	v, err := NewFileSystemVault("local", root)
	if err != nil {
		t.Fatalf("NewFileSystemVault() error = %v", err)
	}
	v.root = filepath.Join(root, "file")
	if err := os.WriteFile(v.root, []byte("x"), 0644); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}
	if err := v.ValidateSetup(context.Background()); err == nil {
		t.Error("ValidateSetup() expected error for a file root")
	}
}

// fakeS3 keeps objects in memory.
type fakeS3 struct {
	mu       sync.Mutex
	objects  map[string][]byte
	metadata map[string]map[string]string
	bucket   string
}

func newFakeS3(bucket string) *fakeS3 {
	return &fakeS3{
		objects:  make(map[string][]byte),
		metadata: make(map[string]map[string]string),
		bucket:   bucket,
	}
}

func (f *fakeS3) PutObject(ctx context.Context, in *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	data, err := io.ReadAll(in.Body)
	if err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.objects[*in.Key] = data
	f.metadata[*in.Key] = in.Metadata
	return &s3.PutObjectOutput{}, nil
}

func (f *fakeS3) UploadPart(context.Context, *s3.UploadPartInput, ...func(*s3.Options)) (*s3.UploadPartOutput, error) {
	return nil, errors.New("multipart not supported")
}

func (f *fakeS3) CreateMultipartUpload(context.Context, *s3.CreateMultipartUploadInput, ...func(*s3.Options)) (*s3.CreateMultipartUploadOutput, error) {
	return nil, errors.New("multipart not supported")
}

func (f *fakeS3) CompleteMultipartUpload(context.Context, *s3.CompleteMultipartUploadInput, ...func(*s3.Options)) (*s3.CompleteMultipartUploadOutput, error) {
	return nil, errors.New("multipart not supported")
}

func (f *fakeS3) AbortMultipartUpload(context.Context, *s3.AbortMultipartUploadInput, ...func(*s3.Options)) (*s3.AbortMultipartUploadOutput, error) {
	return &s3.AbortMultipartUploadOutput{}, nil
}

func (f *fakeS3) GetObject(ctx context.Context, in *s3.GetObjectInput, _ ...func(*s3.Options)) (*s3.GetObjectOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	data, ok := f.objects[*in.Key]
	if !ok {
		return nil, &types.NoSuchKey{}
	}
	return &s3.GetObjectOutput{Body: io.NopCloser(bytes.NewReader(data)), Metadata: f.metadata[*in.Key]}, nil
}

func (f *fakeS3) HeadObject(ctx context.Context, in *s3.HeadObjectInput, _ ...func(*s3.Options)) (*s3.HeadObjectOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.objects[*in.Key]; !ok {
		return nil, &types.NotFound{}
	}
	return &s3.HeadObjectOutput{Metadata: f.metadata[*in.Key]}, nil
}

func (f *fakeS3) HeadBucket(ctx context.Context, in *s3.HeadBucketInput, _ ...func(*s3.Options)) (*s3.HeadBucketOutput, error) {
	if *in.Bucket != f.bucket {
		return nil, &types.NotFound{}
	}
	return &s3.HeadBucketOutput{}, nil
}

func (f *fakeS3) DeleteObject(ctx context.Context, in *s3.DeleteObjectInput, _ ...func(*s3.Options)) (*s3.DeleteObjectOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.objects, *in.Key)
	delete(f.metadata, *in.Key)
	return &s3.DeleteObjectOutput{}, nil
}

func TestS3Vault(t *testing.T) {
	testVault(t, func(t *testing.T) Vault {
		return NewS3Vault("offsite", newFakeS3("snapshots"), "snapshots", "prod/")
	})
}

func TestS3Vault_KeyLayout(t *testing.T) {
	client := newFakeS3("snapshots")
	v := NewS3Vault("offsite", client, "snapshots", "prod/")
	if err := v.Put(context.Background(), "media-1", strings.NewReader("db"), 2, 9); err != nil {
		t.Fatalf("Put() error = %v", err)
	}
	if _, ok := client.objects["prod/media-1.db"]; !ok {
		t.Errorf("objects = %v, want key prod/media-1.db", client.objects)
	}
	if got := client.metadata["prod/media-1.db"][versionKey]; got != "9" {
		t.Errorf("version metadata = %q, want %q", got, "9")
	}
}

func TestS3Vault_ValidateSetup_MissingBucket(t *testing.T) {
	v := NewS3Vault("offsite", newFakeS3("snapshots"), "other", "")
	if err := v.ValidateSetup(context.Background()); err == nil {
		t.Error("ValidateSetup() expected error for missing bucket")
	}
}

func TestNewVaultFromConfig(t *testing.T) {
	ctx := context.Background()
	tests := []struct {
		name    string
		cfg     config.SnapshotConfig
		wantErr bool
	}{
		{"memory", config.SnapshotConfig{Type: "memory", Name: "m"}, false},
		{"filesystem", config.SnapshotConfig{Type: "filesystem", Name: "f", FSVaultRoot: t.TempDir()}, false},
		{"filesystem without root", config.SnapshotConfig{Type: "filesystem", Name: "f"}, true},
		{"s3 without bucket", config.SnapshotConfig{Type: "s3", S3Region: "us-east-1"}, true},
		{"s3 with static credentials", config.SnapshotConfig{
			Type: "s3", Name: "offsite", S3Bucket: "b", S3Region: "us-east-1",
			S3Endpoint: "http://localhost:4566", S3KeyID: "test", S3Secret: "test",
		}, false},
		{"unknown", config.SnapshotConfig{Type: "tape"}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v, err := NewVaultFromConfig(ctx, tt.cfg)
			if (err != nil) != tt.wantErr {
				t.Fatalf("NewVaultFromConfig() error = %v, wantErr %v", err, tt.wantErr)
			}
			if err == nil && v.Name() != tt.cfg.Name {
				t.Errorf("Name() = %q, want %q", v.Name(), tt.cfg.Name)
			}
		})
	}
}
