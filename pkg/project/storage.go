package project

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/gabriel-vasile/mimetype"
	"github.com/google/uuid"

	"github.com/docbro/docbro/internal/bytesize"
	"github.com/docbro/docbro/internal/logger"
	"github.com/docbro/docbro/pkg/config"
	"github.com/docbro/docbro/pkg/store"
)

// storageSubdirs are created under the project root at initialize time.
var storageSubdirs = []string{"files", "archive", "thumbnails", "temp", "exports", "logs"}

// mimeByExtension is the fast path for MIME detection; unknown extensions
// fall back to content sniffing.
var mimeByExtension = map[string]string{
	"txt": "text/plain", "md": "text/markdown", "markdown": "text/markdown",
	"html": "text/html", "htm": "text/html", "css": "text/css",
	"csv": "text/csv", "rst": "text/x-rst", "xml": "application/xml",
	"json": "application/json", "yaml": "application/yaml", "yml": "application/yaml",
	"js": "application/javascript", "pdf": "application/pdf",
	"zip": "application/zip", "gz": "application/gzip", "tar": "application/x-tar",
	"png": "image/png", "jpg": "image/jpeg", "jpeg": "image/jpeg",
	"gif": "image/gif", "svg": "image/svg+xml", "webp": "image/webp",
	"mp3": "audio/mpeg", "wav": "audio/wav", "mp4": "video/mp4",
	"doc": "application/msword",
	"docx": "application/vnd.openxmlformats-officedocument.wordprocessingml.document",
	"xlsx": "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet",
}

// estimatedTextRatio is the compression ratio recorded for compressible
// text files. Compression is metadata-only: bytes are stored verbatim so
// retrieval stays a byte-for-byte round trip.
const estimatedTextRatio = 0.35

// StorageHandler implements the storage project type: durable file storage
// with tagging, integrity checking and substring search over the inventory.
type StorageHandler struct {
	deps Deps
}

// NewStorageHandler creates the storage handler.
func NewStorageHandler(deps Deps) *StorageHandler {
	return &StorageHandler{deps: deps}
}

func (h *StorageHandler) Type() config.ProjectType { return config.TypeStorage }

// DefaultSettings returns the storage type defaults.
func (h *StorageHandler) DefaultSettings() map[string]any {
	return config.TypeDefaults(config.TypeStorage)
}

// ValidateSettings validates a merged settings map for storage projects.
func (h *StorageHandler) ValidateSettings(settings map[string]any) config.ValidationResult {
	return config.ValidateSettings(settings, config.TypeStorage)
}

// Initialize creates the storage directory tree and the per-project
// database with its inventory table.
func (h *StorageHandler) Initialize(ctx context.Context, p *Project) error {
	for _, sub := range storageSubdirs {
		if err := os.MkdirAll(filepath.Join(p.Dir, sub), 0o755); err != nil {
			return fmt.Errorf("failed to create %s directory: %w", sub, err)
		}
	}
	// Opening the database creates the storage_files and inventory schema.
	if _, err := h.deps.DB(ctx, p); err != nil {
		return err
	}
	logger.InfoCtx(ctx, "storage project initialized", logger.KeyProject, p.Name)
	return nil
}

// Cleanup removes temp contents. With force, failures degrade to warnings.
func (h *StorageHandler) Cleanup(ctx context.Context, p *Project, force bool) error {
	if err := os.RemoveAll(filepath.Join(p.Dir, "temp")); err != nil {
		if !force {
			return fmt.Errorf("failed to remove temp directory: %w", err)
		}
		logger.WarnCtx(ctx, "ignoring cleanup failure", logger.KeyProject, p.Name, logger.KeyError, err.Error())
	}
	return nil
}

// IngestFile satisfies Ingestor.
func (h *StorageHandler) IngestFile(ctx context.Context, p *Project, localPath string, req IngestRequest) (*IngestResult, error) {
	return h.StoreFile(ctx, p, localPath, req)
}

// StoreFile validates, deduplicates and persists one file into the project.
// The source file at localPath is left untouched.
func (h *StorageHandler) StoreFile(ctx context.Context, p *Project, localPath string, req IngestRequest) (*IngestResult, error) {
	cfg, err := h.deps.Resolver.GetProject(p.Name)
	if err != nil {
		return nil, err
	}

	info, err := os.Stat(localPath)
	if err != nil {
		return nil, fmt.Errorf("cannot stat %s: %w", localPath, err)
	}

	originalName := req.OriginalName
	if originalName == "" {
		originalName = filepath.Base(localPath)
	}
	ext := strings.ToLower(strings.TrimPrefix(filepath.Ext(originalName), "."))

	if cfg.MaxFileSize > 0 && info.Size() > cfg.MaxFileSize {
		return nil, fmt.Errorf("file %s exceeds max_file_size (%s > %s)",
			originalName, bytesize.ByteSize(info.Size()), bytesize.ByteSize(cfg.MaxFileSize))
	}
	if !config.FormatAllowed(cfg.AllowedFormats, ext) {
		return nil, fmt.Errorf("format %q is not allowed for project %s", ext, p.Name)
	}

	db, err := h.deps.DB(ctx, p)
	if err != nil {
		return nil, err
	}

	finalName, skipped, err := h.resolveConflict(ctx, p, db, originalName, req.Conflict)
	if err != nil {
		return nil, err
	}
	if skipped {
		return &IngestResult{Skipped: true, SkipReason: "filename exists", StoredAs: originalName}, nil
	}

	fileID := uuid.NewString()
	destName := fileID
	if ext != "" {
		destName += "." + ext
	}
	destPath := filepath.Join(p.Dir, "files", destName)

	checksum, written, err := copyFileChecksummed(localPath, destPath)
	if err != nil {
		return nil, err
	}

	mime := detectMime(ext, destPath)

	row := &store.StorageFile{
		ID:            fileID,
		ProjectID:     p.ID,
		Filename:      finalName,
		FilePath:      destPath,
		FileSize:      written,
		MimeType:      mime,
		Checksum:      checksum,
		UploadDate:    time.Now().UTC(),
		FileExtension: ext,
	}

	tags := NormalizeTags(strings.Split(req.Metadata["tags"], ","))
	if cfg.AutoTagging == nil || *cfg.AutoTagging {
		tags = mergeTags(tags, autoTags(ext, mime, written))
	}
	if err := row.SetTags(tags); err != nil {
		return nil, err
	}
	if err := row.SetMetadata(req.Metadata); err != nil {
		return nil, err
	}
	row.UploadSourceJSON = fmt.Sprintf(`{"type":%q,"location":%q}`, req.SourceType, req.SourceLocation)

	if (cfg.EnableCompression == nil || *cfg.EnableCompression) && isTextualMime(mime) && written > int64(bytesize.KiB) {
		row.IsCompressed = true
		row.CompressionRatio = estimatedTextRatio
	}

	if err := db.SaveStorageFile(ctx, row); err != nil {
		_ = os.Remove(destPath)
		return nil, err
	}

	if cfg.FullTextIndexing == nil || *cfg.FullTextIndexing {
		if err := h.indexFile(ctx, db, row); err != nil {
			logger.WarnCtx(ctx, "inventory indexing failed",
				logger.KeyFile, finalName, logger.KeyError, err.Error())
		}
	}

	logger.InfoCtx(ctx, "stored file",
		logger.KeyProject, p.Name, logger.KeyFile, finalName, logger.KeyBytes, written)
	return &IngestResult{FileID: fileID, StoredAs: finalName, Bytes: written}, nil
}

// resolveConflict applies the conflict policy when finalName collides with
// an existing storage file. It returns the name to store under, or
// skipped=true when the policy elects to keep the existing file.
func (h *StorageHandler) resolveConflict(ctx context.Context, p *Project, db *store.ProjectDB, name string, policy ConflictPolicy) (string, bool, error) {
	exists, err := db.StorageFilenameExists(ctx, name)
	if err != nil {
		return "", false, err
	}
	if !exists {
		return name, false, nil
	}

	if policy == "" {
		policy = ConflictAsk
	}
	if policy == ConflictAsk {
		if h.deps.Ask != nil {
			policy = h.deps.Ask(p, name)
		}
		if policy == ConflictAsk { // no interactive answer available
			policy = ConflictSkip
		}
	}

	switch policy {
	case ConflictSkip:
		return "", true, nil

	case ConflictOverwrite:
		if err := h.deleteStored(ctx, db, name); err != nil {
			return "", false, err
		}
		return name, false, nil

	case ConflictBackup:
		existing, err := db.GetStorageFile(ctx, name)
		if err != nil {
			return "", false, err
		}
		backupName := fmt.Sprintf("%s.%s", name, time.Now().UTC().Format("20060102_150405"))
		backupPath := filepath.Join(p.Dir, "archive", backupName)
		if _, _, err := copyFileChecksummed(existing.FilePath, backupPath); err != nil {
			return "", false, fmt.Errorf("failed to back up existing file: %w", err)
		}
		if err := h.deleteStored(ctx, db, name); err != nil {
			return "", false, err
		}
		return name, false, nil

	case ConflictRename:
		renamed, err := nextFreeName(ctx, db, name)
		if err != nil {
			return "", false, err
		}
		return renamed, false, nil

	default:
		return "", false, fmt.Errorf("unknown conflict policy %q", policy)
	}
}

func (h *StorageHandler) deleteStored(ctx context.Context, db *store.ProjectDB, name string) error {
	existing, err := db.GetStorageFile(ctx, name)
	if err != nil {
		return err
	}
	if err := db.DeleteStorageFile(ctx, existing.ID); err != nil {
		return err
	}
	if err := os.Remove(existing.FilePath); err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}

// nextFreeName appends the smallest numeric suffix that makes name unique:
// doc.pdf, doc_1.pdf, doc_2.pdf, ...
func nextFreeName(ctx context.Context, db *store.ProjectDB, name string) (string, error) {
	ext := filepath.Ext(name)
	stem := strings.TrimSuffix(name, ext)
	for n := 1; ; n++ {
		candidate := fmt.Sprintf("%s_%d%s", stem, n, ext)
		exists, err := db.StorageFilenameExists(ctx, candidate)
		if err != nil {
			return "", err
		}
		if !exists {
			return candidate, nil
		}
	}
}

// RetrieveFile verifies the stored checksum and returns a reader over the
// file plus its record. The caller closes the reader.
func (h *StorageHandler) RetrieveFile(ctx context.Context, p *Project, filename string) (io.ReadCloser, *store.StorageFile, error) {
	db, err := h.deps.DB(ctx, p)
	if err != nil {
		return nil, nil, err
	}
	row, err := db.GetStorageFile(ctx, filename)
	if err != nil {
		return nil, nil, err
	}

	actual, err := fileChecksum(row.FilePath)
	if err != nil {
		return nil, nil, fmt.Errorf("cannot read stored file: %w", err)
	}
	if actual != row.Checksum {
		return nil, nil, fmt.Errorf("%w: %s (stored %s, got %s)", ErrIntegrity, filename, row.Checksum, actual)
	}

	f, err := os.Open(row.FilePath)
	if err != nil {
		return nil, nil, err
	}
	if err := db.TouchStorageFile(ctx, row.ID); err != nil {
		logger.WarnCtx(ctx, "failed to record file access", logger.KeyFile, filename, logger.KeyError, err.Error())
	}
	return f, row, nil
}

// SearchFilters narrow SearchFiles results after the substring match.
type SearchFilters struct {
	FileType string
	MinSize  int64
	MaxSize  int64
	DateFrom time.Time
	DateTo   time.Time
	Tags     []string // any-of
}

// SearchFiles performs a case-insensitive substring match over filename,
// tags and metadata values, then applies the filters.
func (h *StorageHandler) SearchFiles(ctx context.Context, p *Project, query string, filters SearchFilters) ([]*store.StorageFile, error) {
	db, err := h.deps.DB(ctx, p)
	if err != nil {
		return nil, err
	}
	rows, err := db.ListStorageFiles(ctx)
	if err != nil {
		return nil, err
	}

	needle := strings.ToLower(strings.TrimSpace(query))
	var out []*store.StorageFile
	for _, row := range rows {
		if needle != "" && !matchesQuery(row, needle) {
			continue
		}
		if !passesFilters(row, filters) {
			continue
		}
		out = append(out, row)
	}
	return out, nil
}

func matchesQuery(row *store.StorageFile, needle string) bool {
	if strings.Contains(strings.ToLower(row.Filename), needle) {
		return true
	}
	for _, tag := range row.Tags() {
		if strings.Contains(strings.ToLower(tag), needle) {
			return true
		}
	}
	for _, v := range row.Metadata() {
		if strings.Contains(strings.ToLower(v), needle) {
			return true
		}
	}
	return false
}

func passesFilters(row *store.StorageFile, f SearchFilters) bool {
	if f.FileType != "" && !strings.EqualFold(row.FileExtension, strings.TrimPrefix(f.FileType, ".")) {
		return false
	}
	if f.MinSize > 0 && row.FileSize < f.MinSize {
		return false
	}
	if f.MaxSize > 0 && row.FileSize > f.MaxSize {
		return false
	}
	if !f.DateFrom.IsZero() && row.UploadDate.Before(f.DateFrom) {
		return false
	}
	if !f.DateTo.IsZero() && row.UploadDate.After(f.DateTo) {
		return false
	}
	if len(f.Tags) > 0 {
		have := map[string]struct{}{}
		for _, tag := range row.Tags() {
			have[tag] = struct{}{}
		}
		any := false
		for _, want := range NormalizeTags(f.Tags) {
			if _, ok := have[want]; ok {
				any = true
				break
			}
		}
		if !any {
			return false
		}
	}
	return true
}

// TagFile merges normalized tags into a file's tag set and re-indexes it.
func (h *StorageHandler) TagFile(ctx context.Context, p *Project, filename string, tags []string) (*store.StorageFile, error) {
	db, err := h.deps.DB(ctx, p)
	if err != nil {
		return nil, err
	}
	row, err := db.GetStorageFile(ctx, filename)
	if err != nil {
		return nil, err
	}

	merged := mergeTags(row.Tags(), NormalizeTags(tags))
	if err := row.SetTags(merged); err != nil {
		return nil, err
	}
	if err := db.SaveStorageFile(ctx, row); err != nil {
		return nil, err
	}
	if err := h.indexFile(ctx, db, row); err != nil {
		logger.WarnCtx(ctx, "inventory reindex failed", logger.KeyFile, filename, logger.KeyError, err.Error())
	}
	return row, nil
}

// Inventory returns every stored file, newest upload first.
func (h *StorageHandler) Inventory(ctx context.Context, p *Project) ([]*store.StorageFile, error) {
	db, err := h.deps.DB(ctx, p)
	if err != nil {
		return nil, err
	}
	return db.ListStorageFiles(ctx)
}

// Stats reports file count, total bytes and tag cardinality.
func (h *StorageHandler) Stats(ctx context.Context, p *Project) (map[string]any, error) {
	rows, err := h.Inventory(ctx, p)
	if err != nil {
		return nil, err
	}
	var totalBytes int64
	tagSet := map[string]struct{}{}
	for _, row := range rows {
		totalBytes += row.FileSize
		for _, tag := range row.Tags() {
			tagSet[tag] = struct{}{}
		}
	}
	return map[string]any{
		"file_count":  len(rows),
		"total_bytes": totalBytes,
		"total_size":  bytesize.ByteSize(totalBytes).String(),
		"unique_tags": len(tagSet),
	}, nil
}

// indexFile writes the denormalized full-text inventory record, extracting
// text for formats the extractor understands.
func (h *StorageHandler) indexFile(ctx context.Context, db *store.ProjectDB, row *store.StorageFile) error {
	var extracted string
	if isTextualMime(row.MimeType) {
		if ex, err := ExtractText(row.FilePath, row.Filename); err == nil {
			extracted = ex.Text
		}
	}

	metaPairs := make([]string, 0)
	for k, v := range row.Metadata() {
		metaPairs = append(metaPairs, k+":"+v)
	}

	return db.SaveInventory(ctx, &store.FileInventory{
		FileID:        row.ID,
		Filename:      row.Filename,
		Tags:          strings.Join(row.Tags(), " "),
		MetadataText:  strings.Join(metaPairs, " "),
		ExtractedText: extracted,
		ContentHash:   row.Checksum,
	})
}

// ============================================
// helpers
// ============================================

// copyFileChecksummed streams src to dst in 64 KiB chunks, returning the
// lowercase hex SHA-256 of the copied bytes.
func copyFileChecksummed(src, dst string) (string, int64, error) {
	in, err := os.Open(src)
	if err != nil {
		return "", 0, err
	}
	defer in.Close()

	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return "", 0, err
	}
	out, err := os.Create(dst)
	if err != nil {
		return "", 0, err
	}
	defer out.Close()

	hasher := sha256.New()
	written, err := io.CopyBuffer(io.MultiWriter(out, hasher), in, make([]byte, 64*1024))
	if err != nil {
		_ = os.Remove(dst)
		return "", 0, err
	}
	return hex.EncodeToString(hasher.Sum(nil)), written, nil
}

// fileChecksum returns the lowercase hex SHA-256 of a file's content.
func fileChecksum(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	hasher := sha256.New()
	if _, err := io.Copy(hasher, f); err != nil {
		return "", err
	}
	return hex.EncodeToString(hasher.Sum(nil)), nil
}

func detectMime(ext, path string) string {
	if mime, ok := mimeByExtension[ext]; ok {
		return mime
	}
	if detected, err := mimetype.DetectFile(path); err == nil {
		return detected.String()
	}
	return "application/octet-stream"
}

func isTextualMime(mime string) bool {
	if strings.HasPrefix(mime, "text/") {
		return true
	}
	switch mime {
	case "application/json", "application/xml", "application/yaml", "application/javascript":
		return true
	}
	return false
}

// NormalizeTags lowercases, trims and dedupes tags. Tags longer than 50
// characters or containing separator characters are dropped.
func NormalizeTags(tags []string) []string {
	seen := map[string]struct{}{}
	out := make([]string, 0, len(tags))
	for _, tag := range tags {
		tag = strings.ToLower(strings.TrimSpace(tag))
		if tag == "" || len(tag) > 50 || strings.ContainsAny(tag, ",;|") {
			continue
		}
		if _, dup := seen[tag]; dup {
			continue
		}
		seen[tag] = struct{}{}
		out = append(out, tag)
	}
	return out
}

func mergeTags(existing, incoming []string) []string {
	seen := map[string]struct{}{}
	out := make([]string, 0, len(existing)+len(incoming))
	for _, tag := range append(append([]string{}, existing...), incoming...) {
		if _, dup := seen[tag]; dup {
			continue
		}
		seen[tag] = struct{}{}
		out = append(out, tag)
	}
	return out
}

// autoTags derives tags from the file's extension, MIME category and size
// bucket.
func autoTags(ext, mime string, size int64) []string {
	var tags []string
	if ext != "" {
		tags = append(tags, "type:"+ext)
	}
	if category, _, found := strings.Cut(mime, "/"); found && category != "" {
		tags = append(tags, category)
	}
	switch {
	case size < int64(100*bytesize.KiB):
		tags = append(tags, "size:tiny")
	case size < int64(10*bytesize.MiB):
		tags = append(tags, "size:small")
	case size < int64(100*bytesize.MiB):
		tags = append(tags, "size:medium")
	default:
		tags = append(tags, "size:large")
	}
	return tags
}
