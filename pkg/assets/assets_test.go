package assets

import (
	"bytes"
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"reflect"
	"sync"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
)

func TestCleanPath(t *testing.T) {
	tests := []struct {
		in      string
		want    string
		wantErr bool
	}{
		{in: "maps/town.png", want: "maps/town.png"},
		{in: "maps/./town.png", want: "maps/town.png"},
		{in: "maps/sub/../town.png", want: "maps/town.png"},
		{in: `maps\town.png`, want: "maps/town.png"},
		{in: "", wantErr: true},
		{in: ".", wantErr: true},
		{in: "../secret", wantErr: true},
		{in: "maps/../../secret", wantErr: true},
		{in: "/etc/passwd", wantErr: true},
		{in: `C:\Windows\win.ini`, wantErr: true},
		{in: "a\x00b", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := CleanPath(tt.in)
			if tt.wantErr {
				if !errors.Is(err, ErrOutsideRoot) {
					t.Errorf("CleanPath(%q) error = %v, want ErrOutsideRoot", tt.in, err)
				}
				return
			}
			if err != nil || got != tt.want {
				t.Errorf("CleanPath(%q) = %q, %v, want %q", tt.in, got, err, tt.want)
			}
		})
	}
}

func TestDirStore(t *testing.T) {
	ctx := context.Background()
	root := t.TempDir()
	store, err := NewDirStore(root, 0)
	if err != nil {
		t.Fatal(err)
	}

	if err := store.Put(ctx, "maps/town.png", []byte("png")); err != nil {
		t.Fatalf("Put() error = %v", err)
	}
	data, err := store.Get(ctx, "maps/town.png")
	if err != nil || string(data) != "png" {
		t.Fatalf("Get() = %q, %v", data, err)
	}

	if _, err := store.Get(ctx, "maps/missing.png"); !errors.Is(err, ErrNotFound) {
		t.Errorf("missing: error = %v, want ErrNotFound", err)
	}
	if _, err := store.Get(ctx, "maps"); !errors.Is(err, ErrNotFound) {
		t.Errorf("directory: error = %v, want ErrNotFound", err)
	}
	if _, err := store.Get(ctx, "../outside.txt"); !errors.Is(err, ErrOutsideRoot) {
		t.Errorf("traversal: error = %v, want ErrOutsideRoot", err)
	}
	if err := store.Put(ctx, "../outside.txt", nil); !errors.Is(err, ErrOutsideRoot) {
		t.Errorf("Put traversal: error = %v, want ErrOutsideRoot", err)
	}
}

func TestDirStoreSymlinkEscape(t *testing.T) {
	outside := filepath.Join(t.TempDir(), "secret.txt")
	if err := os.WriteFile(outside, []byte("secret"), 0644); err != nil {
		t.Fatal(err)
	}
	root := t.TempDir()
	if err := os.Symlink(outside, filepath.Join(root, "link.txt")); err != nil {
		t.Skipf("symlinks unavailable: %v", err)
	}

	store, err := NewDirStore(root, 0)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := store.Get(context.Background(), "link.txt"); !errors.Is(err, ErrNotFound) {
		t.Errorf("Get(link.txt) error = %v, want ErrNotFound", err)
	}
}

func TestDirStoreSizeLimit(t *testing.T) {
	ctx := context.Background()
	store, err := NewDirStore(t.TempDir(), 4)
	if err != nil {
		t.Fatal(err)
	}
	if err := store.Put(ctx, "big.bin", []byte("12345")); !errors.Is(err, ErrTooLarge) {
		t.Errorf("Put() error = %v, want ErrTooLarge", err)
	}
	if err := os.WriteFile(filepath.Join(store.Root(), "big.bin"), []byte("12345"), 0644); err != nil {
		t.Fatal(err)
	}
	if _, err := store.Get(ctx, "big.bin"); !errors.Is(err, ErrTooLarge) {
		t.Errorf("Get() error = %v, want ErrTooLarge", err)
	}
}

type fakeS3 struct {
	mu      sync.Mutex
	objects map[string][]byte
	keys    []string
}

func (f *fakeS3) GetObject(_ context.Context, in *s3.GetObjectInput, _ ...func(*s3.Options)) (*s3.GetObjectOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.keys = append(f.keys, *in.Key)
	data, ok := f.objects[*in.Key]
	if !ok {
		return nil, &types.NoSuchKey{}
	}
	return &s3.GetObjectOutput{
		Body:          io.NopCloser(bytes.NewReader(data)),
		ContentLength: aws.Int64(int64(len(data))),
	}, nil
}

func (f *fakeS3) PutObject(_ context.Context, in *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	data, err := io.ReadAll(in.Body)
	if err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.objects[*in.Key] = data
	return &s3.PutObjectOutput{}, nil
}

func TestS3Store(t *testing.T) {
	ctx := context.Background()
	fake := &fakeS3{objects: map[string][]byte{"lost-mine/maps/town.png": []byte("png")}}
	store := NewS3Store(fake, "campaigns", "lost-mine", 0)

	data, err := store.Get(ctx, "maps/./town.png")
	if err != nil || string(data) != "png" {
		t.Fatalf("Get() = %q, %v", data, err)
	}
	if fake.keys[0] != "lost-mine/maps/town.png" {
		t.Errorf("requested key %q", fake.keys[0])
	}

	if _, err := store.Get(ctx, "maps/missing.png"); !errors.Is(err, ErrNotFound) {
		t.Errorf("missing: error = %v, want ErrNotFound", err)
	}
	if _, err := store.Get(ctx, "../other/secret"); !errors.Is(err, ErrOutsideRoot) {
		t.Errorf("traversal: error = %v, want ErrOutsideRoot", err)
	}

	if err := store.Put(ctx, "music/a.mp3", []byte("mp3")); err != nil {
		t.Fatal(err)
	}
	if string(fake.objects["lost-mine/music/a.mp3"]) != "mp3" {
		t.Errorf("Put() stored %v", fake.objects)
	}
}

func TestParseS3URL(t *testing.T) {
	bucket, prefix, err := ParseS3URL("s3://campaigns/lost-mine")
	if err != nil || bucket != "campaigns" || prefix != "lost-mine/" {
		t.Errorf("ParseS3URL() = %q, %q, %v", bucket, prefix, err)
	}
	bucket, prefix, err = ParseS3URL("s3://campaigns")
	if err != nil || bucket != "campaigns" || prefix != "" {
		t.Errorf("ParseS3URL(bucket only) = %q, %q, %v", bucket, prefix, err)
	}
	if _, _, err := ParseS3URL("/srv/assets"); err == nil {
		t.Error("expected error for a local path")
	}
	if !IsS3URL("s3://x") || IsS3URL("assets") {
		t.Error("IsS3URL() mismatch")
	}
}

func TestNewS3Client(t *testing.T) {
	c := NewS3Client(S3Options{Endpoint: "http://localhost:9000", PathStyle: true, AccessKeyID: "k", SecretAccessKey: "s"})
	o := c.Options()
	if o.Region != "us-east-1" || !o.UsePathStyle || aws.ToString(o.BaseEndpoint) != "http://localhost:9000" {
		t.Errorf("Options() = region %q, path style %v, endpoint %q", o.Region, o.UsePathStyle, aws.ToString(o.BaseEndpoint))
	}
	creds, err := o.Credentials.Retrieve(context.Background())
	if err != nil || creds.AccessKeyID != "k" {
		t.Errorf("Retrieve() = %+v, %v", creds, err)
	}
}

func TestManifest(t *testing.T) {
	path := filepath.Join(t.TempDir(), ManifestFile)

	m, err := LoadManifest(path)
	if err != nil || m.Len() != 0 {
		t.Fatalf("LoadManifest(missing) = %d entries, %v", m.Len(), err)
	}

	m.Record("maps/town.png", []byte("png"))
	m.Record("music/a.mp3", []byte("mp3"))
	if !m.Matches("maps/town.png", []byte("png")) {
		t.Error("Matches() = false for recorded content")
	}
	if m.Matches("maps/town.png", []byte("jpg")) {
		t.Error("Matches() = true for different content")
	}
	if err := m.Save(path); err != nil {
		t.Fatal(err)
	}

	loaded, err := LoadManifest(path)
	if err != nil {
		t.Fatal(err)
	}
	if got := loaded.Paths(); !reflect.DeepEqual(got, []string{"maps/town.png", "music/a.mp3"}) {
		t.Errorf("Paths() = %v", got)
	}
	if e, ok := loaded.Get("music/a.mp3"); !ok || e.Size != 3 {
		t.Errorf("Get() = %+v, %v", e, ok)
	}

	if err := os.WriteFile(path, []byte("not json"), 0644); err != nil {
		t.Fatal(err)
	}
	if _, err := LoadManifest(path); err == nil {
		t.Error("expected error for corrupt manifest")
	}
}
