package storage

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"path"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"github.com/rs/zerolog"

	"github.com/stemsi/exstem-proctor/internal/config"
)

var ErrInvalidKey = errors.New("invalid evidence key")

const releaseTimeout = 10 * time.Second

// EvidenceStore keeps proctoring evidence in an S3-compatible bucket.
// Objects live under attempts/{attempt_id}/.
type EvidenceStore struct {
	client *minio.Client
	bucket string
	log    zerolog.Logger
}

// NewEvidenceStore creates the object storage client.
func NewEvidenceStore(cfg *config.Config, log zerolog.Logger) (*EvidenceStore, error) {
	client, err := minio.New(cfg.EvidenceEndpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.EvidenceAccessKey, cfg.EvidenceSecretKey, ""),
		Secure: cfg.EvidenceUseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("create evidence client: %w", err)
	}
	return &EvidenceStore{
		client: client,
		bucket: cfg.EvidenceBucket,
		log:    log.With().Str("component", "evidence_store").Logger(),
	}, nil
}

// EnsureBucket creates the evidence bucket if missing.
func (s *EvidenceStore) EnsureBucket(ctx context.Context) error {
	exists, err := s.client.BucketExists(ctx, s.bucket)
	if err != nil {
		return fmt.Errorf("check bucket: %w", err)
	}
	if exists {
		return nil
	}
	if err := s.client.MakeBucket(ctx, s.bucket, minio.MakeBucketOptions{}); err != nil {
		return fmt.Errorf("create bucket: %w", err)
	}
	s.log.Info().Str("bucket", s.bucket).Msg("Evidence bucket created")
	return nil
}

// EvidenceKey builds the object key of an uploaded file.
func EvidenceKey(attemptID uuid.UUID, filename string) string {
	base := path.Base(strings.ReplaceAll(filename, "\\", "/"))
	if base == "." || base == "/" || base == "" {
		base = "evidence"
	}
	return fmt.Sprintf("attempts/%s/flags/%s-%s", attemptID, uuid.NewString()[:8], base)
}

// ValidKey reports whether key points inside an attempt's evidence prefix.
func ValidKey(key string) bool {
	if !strings.HasPrefix(key, "attempts/") || strings.Contains(key, "..") {
		return false
	}
	parts := strings.SplitN(key, "/", 3)
	if len(parts) < 3 {
		return false
	}
	_, err := uuid.Parse(parts[1])
	return err == nil
}

// Put uploads a file as evidence and returns its key.
func (s *EvidenceStore) Put(ctx context.Context, attemptID uuid.UUID, filename string, r io.Reader, size int64, contentType string) (string, error) {
	key := EvidenceKey(attemptID, filename)
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	_, err := s.client.PutObject(ctx, s.bucket, key, r, size, minio.PutObjectOptions{
		ContentType: contentType,
	})
	if err != nil {
		return "", fmt.Errorf("upload evidence: %w", err)
	}
	return key, nil
}

// Get opens an evidence object for reading.
func (s *EvidenceStore) Get(ctx context.Context, key string) (*minio.Object, minio.ObjectInfo, error) {
	if !ValidKey(key) {
		return nil, minio.ObjectInfo{}, ErrInvalidKey
	}
	obj, err := s.client.GetObject(ctx, s.bucket, key, minio.GetObjectOptions{})
	if err != nil {
		return nil, minio.ObjectInfo{}, fmt.Errorf("open evidence: %w", err)
	}
	info, err := obj.Stat()
	if err != nil {
		obj.Close()
		return nil, minio.ObjectInfo{}, fmt.Errorf("stat evidence: %w", err)
	}
	return obj, info, nil
}

// streamManifest records when a capability stream was live.
type streamManifest struct {
	AttemptID  uuid.UUID  `json:"attempt_id"`
	Capability string     `json:"capability"`
	Device     string     `json:"device,omitempty"`
	GrantedAt  time.Time  `json:"granted_at"`
	ReleasedAt *time.Time `json:"released_at,omitempty"`
}

// CapabilityStream is the server side of a granted camera or screen share.
// Its manifest object is written on open and closed on Release.
type CapabilityStream struct {
	store    *EvidenceStore
	key      string
	manifest streamManifest
	once     sync.Once
	err      error
}

// OpenStream writes the manifest of a freshly granted capability.
func (s *EvidenceStore) OpenStream(ctx context.Context, attemptID uuid.UUID, capability, device string) (*CapabilityStream, error) {
	cs := &CapabilityStream{
		store: s,
		key:   fmt.Sprintf("attempts/%s/streams/%s.json", attemptID, capability),
		manifest: streamManifest{
			AttemptID:  attemptID,
			Capability: capability,
			Device:     device,
			GrantedAt:  time.Now().UTC(),
		},
	}
	if err := s.putManifest(ctx, cs.key, cs.manifest); err != nil {
		return nil, err
	}
	return cs, nil
}

// ID is the manifest object key.
func (c *CapabilityStream) ID() string { return c.key }

// Release stamps the manifest with the release time. Only the first call
// writes.
func (c *CapabilityStream) Release() error {
	c.once.Do(func() {
		ctx, cancel := context.WithTimeout(context.Background(), releaseTimeout)
		defer cancel()
		now := time.Now().UTC()
		m := c.manifest
		m.ReleasedAt = &now
		c.err = c.store.putManifest(ctx, c.key, m)
	})
	return c.err
}

func (s *EvidenceStore) putManifest(ctx context.Context, key string, m streamManifest) error {
	body, err := json.Marshal(m)
	if err != nil {
		return fmt.Errorf("encode manifest: %w", err)
	}
	_, err = s.client.PutObject(ctx, s.bucket, key, bytes.NewReader(body), int64(len(body)), minio.PutObjectOptions{
		ContentType: "application/json",
	})
	if err != nil {
		return fmt.Errorf("write manifest %s: %w", key, err)
	}
	return nil
}
