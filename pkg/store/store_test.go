package store

import (
	"bytes"
	"context"
	"errors"
	"io"
	"sync"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
)

// fakeS3 keeps objects in a map keyed by bucket/key.
type fakeS3 struct {
	mu      sync.Mutex
	objects map[string][]byte
	types   map[string]string
}

func newFakeS3() *fakeS3 {
	return &fakeS3{objects: map[string][]byte{}, types: map[string]string{}}
}

func (f *fakeS3) GetObject(_ context.Context, in *s3.GetObjectInput, _ ...func(*s3.Options)) (*s3.GetObjectOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	data, ok := f.objects[aws.ToString(in.Bucket)+"/"+aws.ToString(in.Key)]
	if !ok {
		return nil, &types.NoSuchKey{}
	}
	return &s3.GetObjectOutput{Body: io.NopCloser(bytes.NewReader(data))}, nil
}

func (f *fakeS3) PutObject(_ context.Context, in *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	data, err := io.ReadAll(in.Body)
	if err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	k := aws.ToString(in.Bucket) + "/" + aws.ToString(in.Key)
	f.objects[k] = data
	f.types[k] = aws.ToString(in.ContentType)
	return &s3.PutObjectOutput{}, nil
}

func (f *fakeS3) DeleteObject(_ context.Context, in *s3.DeleteObjectInput, _ ...func(*s3.Options)) (*s3.DeleteObjectOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.objects, aws.ToString(in.Bucket)+"/"+aws.ToString(in.Key))
	return &s3.DeleteObjectOutput{}, nil
}

func exerciseStore(t *testing.T, s Store) {
	t.Helper()
	ctx := context.Background()

	if _, err := s.Get(ctx, "missing"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("store:store_test - expected ErrNotFound, got %v", err)
	}
	if err := s.Set(ctx, "k", []byte("one")); err != nil {
		t.Fatalf("store:store_test - set failed: %v", err)
	}
	if err := s.Set(ctx, "k", []byte("two")); err != nil {
		t.Fatalf("store:store_test - overwrite failed: %v", err)
	}
	got, err := s.Get(ctx, "k")
	if err != nil || string(got) != "two" {
		t.Fatalf("store:store_test - expected two, got %q (%v)", got, err)
	}
	if err := s.Del(ctx, "k"); err != nil {
		t.Fatalf("store:store_test - del failed: %v", err)
	}
	if _, err := s.Get(ctx, "k"); !errors.Is(err, ErrNotFound) {
		t.Errorf("store:store_test - expected ErrNotFound after del, got %v", err)
	}
	if err := s.Del(ctx, "k"); err != nil {
		t.Errorf("store:store_test - deleting a missing key must succeed: %v", err)
	}
}

func TestMemory(t *testing.T) {
	m := NewMemory()
	exerciseStore(t, m)

	buf := []byte("abc")
	_ = m.Set(context.Background(), "copy", buf)
	buf[0] = 'x'
	got, _ := m.Get(context.Background(), "copy")
	if string(got) != "abc" {
		t.Errorf("store:store_test - stored value must not alias the caller's slice, got %q", got)
	}
}

func TestS3(t *testing.T) {
	fake := newFakeS3()
	exerciseStore(t, newS3WithClient(fake, "bucket", "handoff"))

	s := newS3WithClient(fake, "bucket", "handoff")
	_ = s.Set(context.Background(), "frame", []byte{1})
	if _, ok := fake.objects["bucket/handoff/frame"]; !ok {
		t.Errorf("store:store_test - expected prefixed key, have %v", fake.objects)
	}
	if fake.types["bucket/handoff/frame"] != "application/cbor" {
		t.Errorf("store:store_test - unexpected content type %q", fake.types["bucket/handoff/frame"])
	}
}

func TestOpen(t *testing.T) {
	ctx := context.Background()
	tests := []struct {
		name    string
		kind    string
		params  OpenParams
		wantErr bool
	}{
		{"default is memory", "", OpenParams{}, false},
		{"memory", "Memory", OpenParams{}, false},
		{"postgres without repository", "postgres", OpenParams{}, true},
		{"s3 without bucket", "s3", OpenParams{}, true},
		{"unknown", "redis", OpenParams{}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, err := Open(ctx, tt.kind, tt.params)
			if (err != nil) != tt.wantErr {
				t.Fatalf("store:store_test - Open(%q) error = %v, wantErr %v", tt.kind, err, tt.wantErr)
			}
			if !tt.wantErr && s == nil {
				t.Error("store:store_test - expected a store")
			}
		})
	}
}
