package service

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/david-nichamoff/fizit-demo-sub001/backend/cache"
	"github.com/david-nichamoff/fizit-demo-sub001/backend/ledger"
	"github.com/david-nichamoff/fizit-demo-sub001/backend/model"
	"github.com/david-nichamoff/fizit-demo-sub001/backend/pkg/logger"
	"github.com/google/uuid"
)

// Document is an artifact upload.
type Document struct {
	Title       string
	Type        string
	ContentType string
	Size        int64
	Body        io.Reader
}

// AddArtifact stores the document in the object store and records it on
// the ledger. It returns the new artifact index.
func (a *AppContext) AddArtifact(ctx context.Context, kind model.Kind, idx int, doc Document) (int, error) {
	ctx = contractContext(ctx, kind, idx)
	if a.Objects == nil {
		return 0, newError(ClassConfiguration, nil, "artifact storage is not configured")
	}
	if strings.TrimSpace(doc.Title) == "" {
		return 0, validationf("doc_title is required")
	}
	if err := a.ValidateIndex(ctx, kind, idx); err != nil {
		return 0, err
	}
	existing, err := a.Ledger.Read(ctx, ledger.EntityArtifact, kind, idx)
	if err != nil {
		return 0, newError(ClassInternal, err, "failed to read artifacts")
	}

	key := fmt.Sprintf("%s/%d/%s", kind, idx, uuid.New().String())
	contentType := doc.ContentType
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	if err := a.Objects.Put(ctx, key, doc.Body, doc.Size, contentType); err != nil {
		return 0, newError(ClassInternal, err, "failed to store artifact")
	}

	t, err := model.ArtifactLayout.Encode(model.Record{
		"doc_title":  doc.Title,
		"doc_type":   doc.Type,
		"object_key": key,
		"added_dt":   a.now().UTC(),
	}, nil)
	if err != nil {
		return 0, newError(ClassInternal, err, "failed to encode artifact")
	}
	if err := a.write(ctx, ledger.AddArtifact(t), kind, idx, cache.ArtifactKey(kind, idx)); err != nil {
		if derr := a.Objects.Delete(context.WithoutCancel(ctx), key); derr != nil {
			logger.Warn(ctx, "failed to remove orphaned artifact object", "key", key, "error", derr)
		}
		return 0, err
	}
	logger.Info(ctx, "artifact added", "object_key", key)
	return len(existing), nil
}

// GetArtifacts lists artifacts with presigned download links. Links are
// sealed before they are cached and cached no longer than they live.
func (a *AppContext) GetArtifacts(ctx context.Context, kind model.Kind, idx int, credential string) ([]map[string]any, error) {
	ctx = contractContext(ctx, kind, idx)
	if a.Objects == nil {
		return nil, newError(ClassConfiguration, nil, "artifact storage is not configured")
	}
	if err := a.ValidateIndex(ctx, kind, idx); err != nil {
		return nil, err
	}

	tuples, err := a.Cache.GetOrLoad(ctx, cache.ArtifactKey(kind, idx), a.Config.PresignExpiry(), func(ctx context.Context) ([]model.Tuple, error) {
		raw, err := a.Ledger.Read(ctx, ledger.EntityArtifact, kind, idx)
		if err != nil {
			return nil, err
		}
		sealer := a.Privacy.Sealer(ctx)
		out := make([]model.Tuple, 0, len(raw))
		for _, t := range raw {
			r, err := model.ArtifactLayout.Decode(t, nil)
			if err != nil {
				return nil, err
			}
			link, err := a.Objects.PresignedURL(ctx, r.Text("object_key"))
			if err != nil {
				return nil, fmt.Errorf("presign %s: %w", r.Text("object_key"), err)
			}
			r["presigned_url"] = link
			ct, err := model.ArtifactCacheLayout.Encode(r, sealer)
			if err != nil {
				return nil, err
			}
			out = append(out, ct)
		}
		return out, nil
	})
	if err != nil {
		return nil, newError(ClassInternal, err, "failed to load artifacts")
	}

	dec, err := a.decryptorFor(ctx, kind, idx, credential)
	if err != nil {
		return nil, err
	}
	out := make([]map[string]any, 0, len(tuples))
	for i, t := range tuples {
		r, err := model.ArtifactCacheLayout.Decode(t, dec)
		if err != nil {
			return nil, newError(ClassInternal, err, "failed to decode artifact")
		}
		v := model.ArtifactCacheLayout.View(r)
		v["contract_type"] = string(kind)
		v["contract_idx"] = idx
		v["artifact_idx"] = i
		out = append(out, v)
	}
	return out, nil
}

// DeleteArtifacts removes every artifact of a contract from the ledger and
// then from the object store. Object removal failures are logged.
func (a *AppContext) DeleteArtifacts(ctx context.Context, kind model.Kind, idx int) error {
	ctx = contractContext(ctx, kind, idx)
	if a.Objects == nil {
		return newError(ClassConfiguration, nil, "artifact storage is not configured")
	}
	if err := a.ValidateIndex(ctx, kind, idx); err != nil {
		return err
	}
	raw, err := a.Ledger.Read(ctx, ledger.EntityArtifact, kind, idx)
	if err != nil {
		return newError(ClassInternal, err, "failed to read artifacts")
	}
	if err := a.write(ctx, ledger.DeleteArtifacts(), kind, idx, cache.ArtifactKey(kind, idx)); err != nil {
		return err
	}
	for _, t := range raw {
		r, err := model.ArtifactLayout.Decode(t, nil)
		if err != nil {
			continue
		}
		if err := a.Objects.Delete(ctx, r.Text("object_key")); err != nil {
			logger.Warn(ctx, "failed to delete artifact object", "key", r.Text("object_key"), "error", err)
		}
	}
	return nil
}
