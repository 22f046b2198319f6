package record

import (
	"bytes"
	"context"
	"errors"
	"io"
	"sort"
	"strings"
	"sync"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"

	"github.com/timkendrick/shunt/pkg/models"
)

// fakeS3 is an in-memory bucket.
type fakeS3 struct {
	mu      sync.Mutex
	objects map[string][]byte
	failGet error
}

func newFakeS3() *fakeS3 {
	return &fakeS3{objects: make(map[string][]byte)}
}

func (f *fakeS3) GetObject(ctx context.Context, in *s3.GetObjectInput, _ ...func(*s3.Options)) (*s3.GetObjectOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failGet != nil {
		return nil, f.failGet
	}
	data, ok := f.objects[aws.ToString(in.Key)]
	if !ok {
		return nil, &types.NoSuchKey{Message: aws.String("not found")}
	}
	return &s3.GetObjectOutput{Body: io.NopCloser(bytes.NewReader(data))}, nil
}

func (f *fakeS3) PutObject(ctx context.Context, in *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	data, err := io.ReadAll(in.Body)
	if err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.objects[aws.ToString(in.Key)] = data
	return &s3.PutObjectOutput{}, nil
}

func (f *fakeS3) DeleteObject(ctx context.Context, in *s3.DeleteObjectInput, _ ...func(*s3.Options)) (*s3.DeleteObjectOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.objects, aws.ToString(in.Key))
	return &s3.DeleteObjectOutput{}, nil
}

func (f *fakeS3) ListObjectsV2(ctx context.Context, in *s3.ListObjectsV2Input, _ ...func(*s3.Options)) (*s3.ListObjectsV2Output, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var names []string
	for k := range f.objects {
		if strings.HasPrefix(k, aws.ToString(in.Prefix)) {
			names = append(names, k)
		}
	}
	sort.Strings(names)
	out := &s3.ListObjectsV2Output{IsTruncated: aws.Bool(false)}
	for _, n := range names {
		out.Contents = append(out.Contents, types.Object{Key: aws.String(n)})
	}
	return out, nil
}

func TestS3Store(t *testing.T) {
	exerciseStore(t, NewS3FromAPI(newFakeS3(), "bucket", "records/"))
}

func TestS3StoreObjectLayout(t *testing.T) {
	fake := newFakeS3()
	s := NewS3FromAPI(fake, "bucket", "records/")
	if err := s.Put(context.Background(), models.AppKey{User: "alice", App: "blog"}, sampleRecord()); err != nil {
		t.Fatalf("Put: %v", err)
	}
	if _, ok := fake.objects["records/alice/blog.json.gz"]; !ok {
		t.Errorf("unexpected object keys: %v", fake.objects)
	}

	fake.objects["records/stray.txt"] = []byte("x")
	keys, err := s.List(context.Background())
	if err != nil || len(keys) != 1 {
		t.Errorf("List = %v, %v", keys, err)
	}
}

func TestS3StoreGetError(t *testing.T) {
	fake := newFakeS3()
	fake.failGet = errors.New("connection reset")
	s := NewS3FromAPI(fake, "bucket", "")

	rec, err := s.Get(context.Background(), models.AppKey{User: "u", App: "a"})
	if err == nil || rec != nil {
		t.Errorf("Get = %v, %v; want error", rec, err)
	}
}
