package rpc

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/docbro/docbro/pkg/config"
	"github.com/docbro/docbro/pkg/project"
	"github.com/docbro/docbro/pkg/store"
	"github.com/docbro/docbro/pkg/upload"
	"github.com/docbro/docbro/pkg/upload/source"
)

// decode unmarshals params into dst, mapping failures to -32602.
func decode(params json.RawMessage, dst any) error {
	if len(params) == 0 {
		return InvalidParams("missing params")
	}
	if err := json.Unmarshal(params, dst); err != nil {
		return InvalidParams("%v", err)
	}
	return nil
}

// domainError maps domain sentinels onto wire codes. Anything unrecognized
// falls through to the dispatcher's -32603 mapping.
func domainError(err error) error {
	switch {
	case errors.Is(err, project.ErrNotFound),
		errors.Is(err, upload.ErrOperationNotFound):
		return NewError(CodeInvalidParams, "%v", err)
	case errors.Is(err, project.ErrDuplicate),
		errors.Is(err, config.ErrInvalidSettings):
		return InvalidParams("%v", err)
	default:
		return err
	}
}

// RegisterProjectMethods exposes the project lifecycle over RPC.
func RegisterProjectMethods(s *Server, pm *project.Manager) {
	s.Register("project/create", func(ctx context.Context, params json.RawMessage) (any, error) {
		var p struct {
			Name     string         `json:"name"`
			Type     string         `json:"type"`
			Settings map[string]any `json:"settings,omitempty"`
			Force    bool           `json:"force,omitempty"`
		}
		if err := decode(params, &p); err != nil {
			return nil, err
		}
		created, err := pm.Create(ctx, project.CreateRequest{
			Name:     p.Name,
			Type:     config.ProjectType(p.Type),
			Settings: p.Settings,
			Force:    p.Force,
		})
		if err != nil {
			return nil, domainError(err)
		}
		return created, nil
	})

	s.Register("project/get", func(ctx context.Context, params json.RawMessage) (any, error) {
		var p struct {
			Name string `json:"name"`
		}
		if err := decode(params, &p); err != nil {
			return nil, err
		}
		proj, err := pm.Get(ctx, p.Name)
		if err != nil {
			return nil, domainError(err)
		}
		return proj, nil
	})

	s.Register("project/list", func(ctx context.Context, params json.RawMessage) (any, error) {
		var p struct {
			Status string `json:"status,omitempty"`
			Type   string `json:"type,omitempty"`
			Limit  int    `json:"limit,omitempty"`
		}
		if len(params) > 0 {
			if err := json.Unmarshal(params, &p); err != nil {
				return nil, InvalidParams("%v", err)
			}
		}
		projects, err := pm.List(ctx, store.ProjectFilter{Status: p.Status, Type: p.Type, Limit: p.Limit})
		if err != nil {
			return nil, domainError(err)
		}
		return map[string]any{"projects": projects, "count": len(projects)}, nil
	})

	s.Register("project/remove", func(ctx context.Context, params json.RawMessage) (any, error) {
		var p struct {
			Name   string `json:"name"`
			Backup bool   `json:"backup,omitempty"`
			Force  bool   `json:"force,omitempty"`
		}
		if err := decode(params, &p); err != nil {
			return nil, err
		}
		backupPath, err := pm.Remove(ctx, p.Name, project.RemoveOptions{Backup: p.Backup, Force: p.Force})
		if err != nil {
			return nil, domainError(err)
		}
		result := map[string]any{"removed": p.Name}
		if backupPath != "" {
			result["backup_path"] = backupPath
		}
		return result, nil
	})

	s.Register("project/update_settings", func(ctx context.Context, params json.RawMessage) (any, error) {
		var p struct {
			Name     string         `json:"name"`
			Settings map[string]any `json:"settings"`
		}
		if err := decode(params, &p); err != nil {
			return nil, err
		}
		summary, err := pm.UpdateSettings(ctx, p.Name, p.Settings)
		if err != nil {
			return nil, domainError(err)
		}
		return summary, nil
	})

	s.Register("project/stats", func(ctx context.Context, params json.RawMessage) (any, error) {
		var p struct {
			Name string `json:"name"`
		}
		if err := decode(params, &p); err != nil {
			return nil, err
		}
		stats, err := pm.Stats(ctx, p.Name)
		if err != nil {
			return nil, domainError(err)
		}
		return stats, nil
	})
}

// RegisterUploadMethods exposes the upload orchestrator over RPC. Uploads
// start in the background; clients poll upload/status.
func RegisterUploadMethods(s *Server, um *upload.Manager) {
	s.Register("upload/start", func(ctx context.Context, params json.RawMessage) (any, error) {
		var p struct {
			Project         string   `json:"project"`
			SourceType      string   `json:"source_type"`
			Location        string   `json:"location"`
			Username        string   `json:"username,omitempty"`
			Password        string   `json:"password,omitempty"`
			Token           string   `json:"token,omitempty"`
			Recursive       bool     `json:"recursive,omitempty"`
			ExcludePatterns []string `json:"exclude_patterns,omitempty"`
			Conflict        string   `json:"conflict,omitempty"`
			DryRun          bool     `json:"dry_run,omitempty"`
		}
		if err := decode(params, &p); err != nil {
			return nil, err
		}
		srcType, err := source.ParseType(p.SourceType)
		if err != nil {
			return nil, InvalidParams("%v", err)
		}
		op, err := um.Start(ctx, upload.Request{
			Project: p.Project,
			Source: source.Spec{
				Type:     srcType,
				Location: p.Location,
				Credentials: source.Credentials{
					Username: p.Username,
					Password: p.Password,
					Token:    p.Token,
				},
			},
			Recursive:       p.Recursive,
			ExcludePatterns: p.ExcludePatterns,
			Conflict:        project.ConflictPolicy(p.Conflict),
			DryRun:          p.DryRun,
		})
		if err != nil {
			return nil, domainError(err)
		}
		return map[string]any{"operation_id": op.ID, "status": op.Status()}, nil
	})

	s.Register("upload/status", func(_ context.Context, params json.RawMessage) (any, error) {
		var p struct {
			OperationID string `json:"operation_id"`
		}
		if err := decode(params, &p); err != nil {
			return nil, err
		}
		op, err := um.Get(p.OperationID)
		if err != nil {
			return nil, domainError(err)
		}
		return op.Snapshot(), nil
	})

	s.Register("upload/cancel", func(_ context.Context, params json.RawMessage) (any, error) {
		var p struct {
			OperationID string `json:"operation_id"`
		}
		if err := decode(params, &p); err != nil {
			return nil, err
		}
		if err := um.Cancel(p.OperationID); err != nil {
			return nil, domainError(err)
		}
		return map[string]any{"cancelled": p.OperationID}, nil
	})

	s.Register("upload/active", func(context.Context, json.RawMessage) (any, error) {
		active := um.Active()
		return map[string]any{"operations": active, "count": len(active)}, nil
	})
}
