// Package s3 implements the remote object-store Store spec.md §4.A calls
// for ("remote object-store (HTTPS PUT/GET with authorization)"), signing
// requests the same way original_source/src/simples3/s3.rs does: a legacy
// AWS v2-style "Authorization: AWS {key}:{signature}" header over an
// HMAC-SHA1 canonical string, not the newer SigV4 scheme — this client is
// a deliberately minimal reimplementation of that same minimal Rust client,
// not a full AWS SDK surface.
package s3

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha1" //nolint:gosec // matches the legacy AWS v2 signing scheme this client reimplements.
	"encoding/base64"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/hashicorp/go-cleanhttp"

	"github.com/Sumatoshi-tech/sccached/internal/storage"
)

// Credentials are the AWS access key pair (and optional session token) used
// to sign requests, mirroring simples3::credential::AwsCredentials.
type Credentials struct {
	AccessKeyID     string
	SecretAccessKey string
	SessionToken    string
}

// Store signs and sends PutObject/GetObject requests against one S3-
// compatible bucket.
type Store struct {
	bucket   string
	baseURL  string
	creds    Credentials
	client   *http.Client
	maxBytes int64
}

// New constructs a Store. endpoint is host[:port] without a scheme;
// useSSL selects https vs http, matching simples3::Ssl.
func New(bucket, endpoint string, useSSL bool, creds Credentials, maxBytes int64) *Store {
	scheme := "http"
	if useSSL {
		scheme = "https"
	}

	return &Store{
		bucket:   bucket,
		baseURL:  fmt.Sprintf("%s://%s/", scheme, endpoint),
		creds:    creds,
		client:   cleanhttp.DefaultPooledClient(),
		maxBytes: maxBytes,
	}
}

func (s *Store) Get(ctx context.Context, key string) (io.ReadCloser, bool, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.baseURL+key, nil)
	if err != nil {
		return nil, false, fmt.Errorf("s3: build GET request: %w", err)
	}

	date := time.Now().UTC().Format(time.RFC1123)
	date = date[:len(date)-3] + "GMT"

	var canonicalHeaders string
	if s.creds.SessionToken != "" {
		req.Header.Set("x-amz-security-token", s.creds.SessionToken)
		canonicalHeaders = "x-amz-security-token:" + s.creds.SessionToken + "\n"
	}

	req.Header.Set("Date", date)
	req.Header.Set("Authorization", s.authHeader(http.MethodGet, date, key, "", canonicalHeaders, ""))

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, false, fmt.Errorf("s3: GET %s: %w", key, err)
	}

	if resp.StatusCode == http.StatusNotFound {
		resp.Body.Close()

		return nil, false, nil
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		resp.Body.Close()

		return nil, false, fmt.Errorf("s3: GET %s: bad status %s", key, resp.Status)
	}

	return resp.Body, true, nil
}

// Put returns immediately and runs the signed PUT round-trip on its own
// goroutine (spec.md §4.A: "put returns immediately ... MUST NOT block the
// request-response path" — a network round-trip is exactly the latency
// this rule exists to keep off that path).
func (s *Store) Put(ctx context.Context, key string, data io.Reader) storage.PutFuture {
	return storage.Async(func() (storage.WriteInfo, error) {
		return s.putObject(ctx, key, data)
	})
}

func (s *Store) putObject(ctx context.Context, key string, data io.Reader) (storage.WriteInfo, error) {
	start := time.Now()

	buf, err := io.ReadAll(data)
	if err != nil {
		return storage.WriteInfo{}, fmt.Errorf("s3: read body: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPut, s.baseURL+key, bytes.NewReader(buf))
	if err != nil {
		return storage.WriteInfo{}, fmt.Errorf("s3: build PUT request: %w", err)
	}

	const contentType = "application/octet-stream"

	date := time.Now().UTC().Format(time.RFC1123)
	date = date[:len(date)-3] + "GMT" // RFC1123 renders "UTC"; the signature needs "GMT".

	canonicalHeaders := s.setAmzHeaders(req)

	req.Header.Set("Date", date)
	req.Header.Set("Content-Type", contentType)
	req.Header.Set("Content-Length", fmt.Sprintf("%d", len(buf)))
	req.Header.Set("Cache-Control", "max-age=1296000") // Two weeks, matching the original.
	req.Header.Set("Authorization", s.authHeader(http.MethodPut, date, key, "", canonicalHeaders, contentType))

	resp, err := s.client.Do(req)
	if err != nil {
		return storage.WriteInfo{}, fmt.Errorf("s3: PUT %s: %w", key, err)
	}

	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return storage.WriteInfo{}, fmt.Errorf("s3: PUT %s: bad status %s", key, resp.Status)
	}

	return storage.WriteInfo{
		Key:      key,
		Duration: time.Since(start),
		Bytes:    int64(len(buf)),
	}, nil
}

// setAmzHeaders sets the x-amz-* headers the original signs over (sorted
// by header name, as the canonical string requires) and returns their
// canonical-header-block representation.
func (s *Store) setAmzHeaders(req *http.Request) string {
	var canonical string

	if s.creds.SessionToken != "" {
		req.Header.Set("x-amz-security-token", s.creds.SessionToken)
		canonical += "x-amz-security-token:" + s.creds.SessionToken + "\n"
	}

	req.Header.Set("x-amz-storage-class", "REDUCED_REDUNDANCY")
	canonical += "x-amz-storage-class:REDUCED_REDUNDANCY\n"

	return canonical
}

// authHeader builds the "AWS {key}:{signature}" Authorization header value,
// following simples3::s3::Bucket::auth exactly: canonical string
// "{verb}\n{md5}\n{content_type}\n{date}\n{headers}{resource}", signed with
// HMAC-SHA1 over the secret key and base64-encoded.
func (s *Store) authHeader(verb, date, key, md5, canonicalHeaders, contentType string) string {
	resource := fmt.Sprintf("/%s/%s", s.bucket, key)
	stringToSign := fmt.Sprintf("%s\n%s\n%s\n%s\n%s%s", verb, md5, contentType, date, canonicalHeaders, resource)

	mac := hmac.New(sha1.New, []byte(s.creds.SecretAccessKey))
	mac.Write([]byte(stringToSign))
	sig := base64.StdEncoding.EncodeToString(mac.Sum(nil))

	return fmt.Sprintf("AWS %s:%s", s.creds.AccessKeyID, sig)
}

func (s *Store) CurrentSize() (int64, bool) {
	return 0, false
}

func (s *Store) MaxSize() (int64, bool) {
	if s.maxBytes <= 0 {
		return 0, false
	}

	return s.maxBytes, true
}

func (s *Store) Location() string {
	return fmt.Sprintf("S3 bucket: %s", s.bucket)
}
