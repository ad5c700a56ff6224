package storage

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/ignite/marketplace-ops/internal/config"
	"github.com/ignite/marketplace-ops/internal/domain"
	"github.com/ignite/marketplace-ops/internal/pkg/logger"
)

// ErrNoSnapshot is returned when no catalog snapshot has been saved yet.
var ErrNoSnapshot = errors.New("no catalog snapshot")

const (
	catalogsCategory = "catalogs"
	dropsCategory    = "drops"
	latestKey        = "latest"
	dropTTL          = 90 * 24 * time.Hour
	recentDropsLimit = 500
)

// CatalogSnapshot is an archived copy of the event route catalog.
type CatalogSnapshot struct {
	Version string              `json:"version"`
	SavedAt time.Time           `json:"saved_at"`
	SavedBy string              `json:"saved_by,omitempty"`
	Routes  []domain.EventRoute `json:"routes"`
}

// Storage archives route catalog snapshots and drop reports, on S3 and
// DynamoDB when configured for AWS or under a local directory otherwise.
// The most recent drops are also kept in memory.
type Storage struct {
	config config.StorageConfig
	mu     sync.RWMutex

	// AWS storage (optional)
	aws *AWSStorage

	latest      *CatalogSnapshot
	recentDrops []domain.DropReport

	now func() time.Time
}

// New creates a new Storage instance
func New(ctx context.Context, cfg config.StorageConfig) (*Storage, error) {
	switch cfg.Type {
	case "aws":
		awsStorage, err := NewAWSStorage(ctx, cfg.DynamoDBTable, cfg.S3Bucket, cfg.AWSRegion, cfg.GetAWSProfile())
		if err != nil {
			return nil, fmt.Errorf("initializing AWS storage: %w", err)
		}
		return NewWithAWS(cfg, awsStorage), nil

	case "local", "":
		if err := os.MkdirAll(cfg.LocalPath, 0755); err != nil {
			return nil, fmt.Errorf("creating storage directory: %w", err)
		}
		return newStorage(cfg, nil), nil
	}
	return nil, fmt.Errorf("unknown storage type %q", cfg.Type)
}

// NewWithAWS creates a Storage backed by an existing AWSStorage.
func NewWithAWS(cfg config.StorageConfig, a *AWSStorage) *Storage {
	return newStorage(cfg, a)
}

func newStorage(cfg config.StorageConfig, a *AWSStorage) *Storage {
	return &Storage{
		config:      cfg,
		aws:         a,
		recentDrops: make([]domain.DropReport, 0, recentDropsLimit),
		now:         time.Now,
	}
}

// ==================== Catalog snapshots ====================

// SaveCatalog archives routes as a new versioned snapshot and makes it the
// latest one.
func (s *Storage) SaveCatalog(ctx context.Context, routes []domain.EventRoute, savedBy string) (*CatalogSnapshot, error) {
	now := s.now().UTC()
	snap := &CatalogSnapshot{
		Version: now.Format("20060102T150405.000Z"),
		SavedAt: now,
		SavedBy: savedBy,
		Routes:  routes,
	}

	if s.aws != nil {
		if err := s.aws.SaveToS3(ctx, catalogsCategory+"/"+snap.Version+".json", snap); err != nil {
			return nil, err
		}
		if err := s.aws.SaveToS3(ctx, catalogsCategory+"/"+latestKey+".json", snap); err != nil {
			return nil, err
		}
	} else {
		if err := s.saveToFile(catalogsCategory, snap.Version, snap); err != nil {
			return nil, fmt.Errorf("saving catalog snapshot: %w", err)
		}
		if err := s.saveToFile(catalogsCategory, latestKey, snap); err != nil {
			return nil, fmt.Errorf("saving catalog snapshot: %w", err)
		}
	}

	s.mu.Lock()
	s.latest = snap
	s.mu.Unlock()

	logger.Info("catalog snapshot saved", "version", snap.Version, "routes", len(routes))
	return snap, nil
}

// LoadLatestCatalog returns the most recently saved snapshot, or
// ErrNoSnapshot.
func (s *Storage) LoadLatestCatalog(ctx context.Context) (*CatalogSnapshot, error) {
	s.mu.RLock()
	cached := s.latest
	s.mu.RUnlock()
	if cached != nil {
		return cached, nil
	}

	var snap CatalogSnapshot
	if s.aws != nil {
		if err := s.aws.GetFromS3(ctx, catalogsCategory+"/"+latestKey+".json", &snap); err != nil {
			var missing *s3types.NoSuchKey
			if errors.As(err, &missing) {
				return nil, ErrNoSnapshot
			}
			return nil, err
		}
	} else {
		if err := s.loadFromFile(catalogsCategory, latestKey, &snap); err != nil {
			if errors.Is(err, os.ErrNotExist) {
				return nil, ErrNoSnapshot
			}
			return nil, fmt.Errorf("loading catalog snapshot: %w", err)
		}
	}

	s.mu.Lock()
	s.latest = &snap
	s.mu.Unlock()
	return &snap, nil
}

// ==================== Drop reports ====================

// ReportDrop archives a drop report. It satisfies dispatch.DropSink.
func (s *Storage) ReportDrop(ctx context.Context, r domain.DropReport) error {
	s.mu.Lock()
	if len(s.recentDrops) == recentDropsLimit {
		copy(s.recentDrops, s.recentDrops[1:])
		s.recentDrops = s.recentDrops[:recentDropsLimit-1]
	}
	s.recentDrops = append(s.recentDrops, r)
	s.mu.Unlock()

	data, err := json.Marshal(r)
	if err != nil {
		return fmt.Errorf("marshaling drop report: %w", err)
	}

	if s.aws != nil {
		at := r.DroppedAt.UTC()
		return s.aws.PutItem(ctx, DynamoDBItem{
			PK:        dropPK(r.EventType),
			SK:        at.Format(time.RFC3339Nano) + "#" + r.NotificationID,
			Data:      string(data),
			Timestamp: at.Format(time.RFC3339),
			TTL:       at.Add(dropTTL).Unix(),
		})
	}
	return s.appendLine(dropsCategory, r.DroppedAt.UTC().Format("2006-01-02"), data)
}

// RecentDrops returns up to limit drop reports, newest first. An empty
// eventType returns drops of every event held in memory; a specific event
// type is read from DynamoDB when configured for AWS.
func (s *Storage) RecentDrops(ctx context.Context, eventType string, limit int) ([]domain.DropReport, error) {
	if limit <= 0 || limit > recentDropsLimit {
		limit = 50
	}

	if s.aws != nil && eventType != "" {
		items, err := s.aws.QueryLatest(ctx, dropPK(eventType), limit)
		if err != nil {
			return nil, err
		}
		drops := make([]domain.DropReport, 0, len(items))
		for _, item := range items {
			var r domain.DropReport
			if err := json.Unmarshal([]byte(item.Data), &r); err != nil {
				continue
			}
			drops = append(drops, r)
		}
		return drops, nil
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	drops := make([]domain.DropReport, 0, limit)
	for i := len(s.recentDrops) - 1; i >= 0 && len(drops) < limit; i-- {
		r := s.recentDrops[i]
		if eventType != "" && r.EventType != eventType {
			continue
		}
		drops = append(drops, r)
	}
	return drops, nil
}

// DropCounts summarizes the in-memory drops by reason.
func (s *Storage) DropCounts() map[string]int {
	s.mu.RLock()
	defer s.mu.RUnlock()

	counts := make(map[string]int)
	for _, r := range s.recentDrops {
		counts[r.Reason]++
	}
	return counts
}

// LoadDropsFromDisk reads the drops archived locally on day, oldest first.
func (s *Storage) LoadDropsFromDisk(day time.Time) ([]domain.DropReport, error) {
	path := filepath.Join(s.config.LocalPath, dropsCategory, day.UTC().Format("2006-01-02")+".jsonl")
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	var drops []domain.DropReport
	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		var r domain.DropReport
		if err := json.Unmarshal(scanner.Bytes(), &r); err != nil {
			continue
		}
		drops = append(drops, r)
	}
	sort.SliceStable(drops, func(i, j int) bool { return drops[i].DroppedAt.Before(drops[j].DroppedAt) })
	return drops, scanner.Err()
}

func dropPK(eventType string) string {
	return "DROP#" + eventType
}

// GetCacheStats returns statistics about the in-memory state
func (s *Storage) GetCacheStats() map[string]interface{} {
	s.mu.RLock()
	defer s.mu.RUnlock()

	stats := map[string]interface{}{
		"backend":      s.backend(),
		"recent_drops": len(s.recentDrops),
	}
	if s.latest != nil {
		stats["catalog_version"] = s.latest.Version
	}
	return stats
}

func (s *Storage) backend() string {
	if s.aws != nil {
		return "aws"
	}
	return "local"
}

// ==================== Local files ====================

// saveToFile saves data to a JSON file
func (s *Storage) saveToFile(category, key string, data interface{}) error {
	dir := filepath.Join(s.config.LocalPath, category)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return err
	}

	// Sanitize key for filename
	safeKey := filepath.Base(key)
	path := filepath.Join(dir, safeKey+".json")

	file, err := os.Create(path)
	if err != nil {
		return err
	}
	defer file.Close()

	encoder := json.NewEncoder(file)
	encoder.SetIndent("", "  ")
	return encoder.Encode(data)
}

// loadFromFile loads data from a JSON file
func (s *Storage) loadFromFile(category, key string, data interface{}) error {
	safeKey := filepath.Base(key)
	path := filepath.Join(s.config.LocalPath, category, safeKey+".json")

	file, err := os.Open(path)
	if err != nil {
		return err
	}
	defer file.Close()

	return json.NewDecoder(file).Decode(data)
}

// appendLine appends one JSON line to category/key.jsonl.
func (s *Storage) appendLine(category, key string, line []byte) error {
	dir := filepath.Join(s.config.LocalPath, category)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return err
	}
	path := filepath.Join(dir, filepath.Base(key)+".jsonl")

	s.mu.Lock()
	defer s.mu.Unlock()

	file, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
	if err != nil {
		return err
	}
	defer file.Close()

	if _, err := file.Write(append(line, '\n')); err != nil {
		return err
	}
	return nil
}

// String describes the backend for boot logs.
func (s *Storage) String() string {
	if s.aws != nil {
		return fmt.Sprintf("aws(s3=%s, dynamodb=%s)", s.config.S3Bucket, s.config.DynamoDBTable)
	}
	return "local(" + strings.TrimRight(s.config.LocalPath, "/") + ")"
}
