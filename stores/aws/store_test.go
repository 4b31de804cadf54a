package aws

import (
	"context"
	"errors"
	"io"
	"testing"
	"workflow-preview/core"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"
)

type mockObjectAPI struct {
	puts      []*s3.PutObjectInput
	bodies    [][]byte
	deletes   []string
	putErr    error
	deleteErr error
}

func (m *mockObjectAPI) PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	if m.putErr != nil {
		return nil, m.putErr
	}
	body, _ := io.ReadAll(params.Body)
	m.puts = append(m.puts, params)
	m.bodies = append(m.bodies, body)
	return &s3.PutObjectOutput{}, nil
}

func (m *mockObjectAPI) DeleteObject(ctx context.Context, params *s3.DeleteObjectInput, optFns ...func(*s3.Options)) (*s3.DeleteObjectOutput, error) {
	if m.deleteErr != nil {
		return nil, m.deleteErr
	}
	m.deletes = append(m.deletes, aws.ToString(params.Key))
	return &s3.DeleteObjectOutput{}, nil
}

func TestPut_ObjectAttributes(t *testing.T) {
	api := &mockObjectAPI{}
	store := newStore(api, Options{Bucket: "sim-studio-previews"})

	url, err := store.Put(context.Background(), "wf1/p1-light.webp", []byte("img"), core.ImagePutOptions(core.FormatWebP))
	if err != nil {
		t.Fatalf("Put() failed: %v", err)
	}

	if url != "https://sim-studio-previews.s3.amazonaws.com/wf1/p1-light.webp" {
		t.Errorf("URL mismatch: got %q", url)
	}
	if len(api.puts) != 1 {
		t.Fatalf("expected 1 PutObject call, got %d", len(api.puts))
	}

	in := api.puts[0]
	if aws.ToString(in.Bucket) != "sim-studio-previews" || aws.ToString(in.Key) != "wf1/p1-light.webp" {
		t.Errorf("bucket/key mismatch: %s/%s", aws.ToString(in.Bucket), aws.ToString(in.Key))
	}
	if aws.ToString(in.ContentType) != "image/webp" {
		t.Errorf("content type mismatch: got %q", aws.ToString(in.ContentType))
	}
	if aws.ToString(in.CacheControl) != "max-age=31536000" {
		t.Errorf("cache control mismatch: got %q", aws.ToString(in.CacheControl))
	}
	if in.ACL != s3types.ObjectCannedACLPublicRead {
		t.Errorf("ACL mismatch: got %q", in.ACL)
	}
	if string(api.bodies[0]) != "img" {
		t.Errorf("body mismatch: got %q", api.bodies[0])
	}
}

func TestPut_PublicURLOverride(t *testing.T) {
	store := newStore(&mockObjectAPI{}, Options{Bucket: "b", PublicURL: "https://cdn.example.com/"})
	if got := store.URL("wf1/p1-dark.png"); got != "https://cdn.example.com/wf1/p1-dark.png" {
		t.Errorf("URL mismatch: got %q", got)
	}
}

func TestPut_Failure(t *testing.T) {
	cause := errors.New("access denied")
	store := newStore(&mockObjectAPI{putErr: cause}, Options{Bucket: "b"})

	_, err := store.Put(context.Background(), "wf1/p1-light.webp", []byte("img"), core.PutOptions{})
	if !core.IsKind(err, core.KindUpload) {
		t.Fatalf("expected an upload error, got %v", err)
	}
	if !errors.Is(err, cause) {
		t.Error("upload error should wrap the client error")
	}

	var e *core.Error
	if errors.As(err, &e) && e.Backend != "s3" {
		t.Errorf("backend mismatch: got %q", e.Backend)
	}
}

func TestDelete(t *testing.T) {
	api := &mockObjectAPI{}
	store := newStore(api, Options{Bucket: "b"})

	if err := store.Delete(context.Background(), "wf1/p1-dark.webp"); err != nil {
		t.Fatalf("Delete() failed: %v", err)
	}
	if len(api.deletes) != 1 || api.deletes[0] != "wf1/p1-dark.webp" {
		t.Errorf("unexpected delete calls: %v", api.deletes)
	}
}

func TestDelete_NotFoundMapping(t *testing.T) {
	testCases := []struct {
		name         string
		err          error
		wantNotFound bool
	}{
		{"no such key", &s3types.NoSuchKey{}, true},
		{"not found", &s3types.NotFound{}, true},
		{"generic api not found", &smithy.GenericAPIError{Code: "NotFound"}, true},
		{"access denied", &smithy.GenericAPIError{Code: "AccessDenied"}, false},
		{"network", errors.New("dial tcp: timeout"), false},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			store := newStore(&mockObjectAPI{deleteErr: tc.err}, Options{Bucket: "b"})
			err := store.Delete(context.Background(), "wf1/p1-dark.webp")
			if err == nil {
				t.Fatal("Delete() should fail")
			}
			if got := errors.Is(err, core.ErrObjectNotFound); got != tc.wantNotFound {
				t.Errorf("ErrObjectNotFound match = %v, want %v (err %v)", got, tc.wantNotFound, err)
			}
		})
	}
}
