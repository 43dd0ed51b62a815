package dispatcher

import (
	"context"
	"errors"
	"time"

	"github.com/victoralfred/cadgate/document"
	"github.com/victoralfred/cadgate/executor"
	"github.com/victoralfred/cadgate/macro"
)

func (d *Dispatcher) handlePing(req *Request) *Response {
	return success(req.ID, map[string]any{
		"pong": true,
		"time": time.Now().UTC().Format(time.RFC3339Nano),
	})
}

func (d *Dispatcher) handleGetReport(req *Request) *Response {
	snapshot := d.metrics.Snapshot()
	return success(req.ID, map[string]any{
		"uptime_seconds": int64(time.Since(d.startedAt).Seconds()),
		"policy": map[string]any{
			"version": d.policy.Version(),
			"hash":    d.policy.Hash(),
			"modules": d.policy.AllowedModules(),
		},
		"documents": d.docs.List(),
		"active":    d.docs.Active(),
		"metrics":   snapshot,
	})
}

// handleValidateCode is the validate-only entry point. A rejection is a
// normal answer here, not an error: the response always succeeds and carries
// the verdict.
func (d *Dispatcher) handleValidateCode(ctx context.Context, req *Request) *Response {
	code, err := stringParam(req, "code")
	if err != nil {
		return failure(req.ID, string(executor.ErrCodeToolFault), "%v", err)
	}
	values, err := injectionParams(req)
	if err != nil {
		return failure(req.ID, string(executor.ErrCodeToolFault), "%v", err)
	}

	if _, rej := d.prepare(ctx, req, code, values); rej != nil {
		return success(req.ID, map[string]any{
			"valid":      false,
			"reason":     rej.Message,
			"violations": rej.Data["violations"],
		})
	}
	return success(req.ID, map[string]any{"valid": true})
}

func (d *Dispatcher) handleExecuteCode(ctx context.Context, req *Request) *Response {
	code, err := stringParam(req, "code")
	if err != nil {
		return failure(req.ID, string(executor.ErrCodeToolFault), "%v", err)
	}
	docName, err := optionalString(req, "doc_name")
	if err != nil {
		return failure(req.ID, string(executor.ErrCodeToolFault), "%v", err)
	}
	values, err := injectionParams(req)
	if err != nil {
		return failure(req.ID, string(executor.ErrCodeToolFault), "%v", err)
	}

	source, rej := d.prepare(ctx, req, code, values)
	if rej != nil {
		return rej
	}
	return d.execute(ctx, req, source, docName)
}

func (d *Dispatcher) handleRunMacro(ctx context.Context, req *Request) *Response {
	name, err := stringParam(req, "name")
	if err != nil {
		return failure(req.ID, string(executor.ErrCodeToolFault), "%v", err)
	}
	docName, err := optionalString(req, "doc_name")
	if err != nil {
		return failure(req.ID, string(executor.ErrCodeToolFault), "%v", err)
	}
	values, err := injectionParams(req)
	if err != nil {
		return failure(req.ID, string(executor.ErrCodeToolFault), "%v", err)
	}
	if d.macros == nil {
		return failure(req.ID, string(executor.ErrCodeToolFault), "macro store is not configured")
	}

	code, err := d.macros.Read(name)
	if err != nil {
		return macroFailure(req.ID, err)
	}

	// Stored macros get no trust from having been saved: the source read
	// back from disk goes through the same injection and validation path as
	// inline code.
	source, rej := d.prepare(ctx, req, code, values)
	if rej != nil {
		return rej
	}
	return d.execute(ctx, req, source, docName)
}

func (d *Dispatcher) handleCreateMacro(req *Request) *Response {
	name, err := stringParam(req, "name")
	if err != nil {
		return failure(req.ID, string(executor.ErrCodeToolFault), "%v", err)
	}
	if d.macros == nil {
		return failure(req.ID, string(executor.ErrCodeToolFault), "macro store is not configured")
	}

	code, err := optionalString(req, "code")
	if err != nil {
		return failure(req.ID, string(executor.ErrCodeToolFault), "%v", err)
	}
	if code == "" {
		templateName, err := optionalString(req, "template")
		if err != nil {
			return failure(req.ID, string(executor.ErrCodeToolFault), "%v", err)
		}
		if templateName == "" {
			templateName = "default"
		}
		code, err = macro.Template(templateName)
		if err != nil {
			return failure(req.ID, string(executor.ErrCodeToolFault), "%v", err)
		}
	}

	if err := d.macros.Create(name, code); err != nil {
		return macroFailure(req.ID, err)
	}
	return success(req.ID, map[string]any{"name": name, "size": len(code)})
}

func (d *Dispatcher) handleUpdateMacro(req *Request) *Response {
	name, err := stringParam(req, "name")
	if err != nil {
		return failure(req.ID, string(executor.ErrCodeToolFault), "%v", err)
	}
	code, err := stringParam(req, "code")
	if err != nil {
		return failure(req.ID, string(executor.ErrCodeToolFault), "%v", err)
	}
	if d.macros == nil {
		return failure(req.ID, string(executor.ErrCodeToolFault), "macro store is not configured")
	}

	if err := d.macros.Update(name, code); err != nil {
		return macroFailure(req.ID, err)
	}
	return success(req.ID, map[string]any{"name": name, "size": len(code)})
}

func (d *Dispatcher) handleDeleteMacro(req *Request) *Response {
	name, err := stringParam(req, "name")
	if err != nil {
		return failure(req.ID, string(executor.ErrCodeToolFault), "%v", err)
	}
	if d.macros == nil {
		return failure(req.ID, string(executor.ErrCodeToolFault), "macro store is not configured")
	}

	if err := d.macros.Delete(name); err != nil {
		return macroFailure(req.ID, err)
	}
	return success(req.ID, map[string]any{"name": name})
}

func (d *Dispatcher) handleListMacros(req *Request) *Response {
	if d.macros == nil {
		return failure(req.ID, string(executor.ErrCodeToolFault), "macro store is not configured")
	}
	infos, err := d.macros.List()
	if err != nil {
		return failure(req.ID, string(executor.ErrCodeToolFault), "%v", err)
	}

	macros := make([]map[string]any, 0, len(infos))
	for _, info := range infos {
		macros = append(macros, map[string]any{
			"name":     info.Name,
			"size":     info.Size,
			"modified": info.Modified.UTC().Format(time.RFC3339),
		})
	}
	return success(req.ID, map[string]any{"macros": macros})
}

func (d *Dispatcher) handleCreateDocument(ctx context.Context, req *Request) *Response {
	name, err := stringParam(req, "name")
	if err != nil {
		return failure(req.ID, string(executor.ErrCodeToolFault), "%v", err)
	}
	return d.submit(ctx, req, func() *Response {
		doc, err := d.docs.Create(name)
		if err != nil {
			return documentFailure(req.ID, err)
		}
		return success(req.ID, map[string]any{"document": doc.Name()})
	})
}

func (d *Dispatcher) handleListDocuments(req *Request) *Response {
	return success(req.ID, map[string]any{
		"documents": d.docs.List(),
		"active":    d.docs.Active(),
	})
}

func (d *Dispatcher) handleGetActiveDocument(req *Request) *Response {
	doc, err := d.docs.Get("")
	if err != nil {
		return documentFailure(req.ID, err)
	}
	return success(req.ID, map[string]any{
		"document": doc.Name(),
		"objects":  doc.Objects(),
	})
}

func (d *Dispatcher) handleCloseDocument(ctx context.Context, req *Request) *Response {
	name, err := stringParam(req, "name")
	if err != nil {
		return failure(req.ID, string(executor.ErrCodeToolFault), "%v", err)
	}
	return d.submit(ctx, req, func() *Response {
		if err := d.docs.Close(name); err != nil {
			return documentFailure(req.ID, err)
		}
		return success(req.ID, map[string]any{"document": name})
	})
}

func (d *Dispatcher) handleListObjects(req *Request) *Response {
	docName, err := optionalString(req, "doc_name")
	if err != nil {
		return failure(req.ID, string(executor.ErrCodeToolFault), "%v", err)
	}
	doc, err := d.docs.Get(docName)
	if err != nil {
		return documentFailure(req.ID, err)
	}
	return success(req.ID, map[string]any{
		"document": doc.Name(),
		"objects":  doc.Objects(),
	})
}

func (d *Dispatcher) handleGetObjectProperties(req *Request) *Response {
	docName, err := optionalString(req, "doc_name")
	if err != nil {
		return failure(req.ID, string(executor.ErrCodeToolFault), "%v", err)
	}
	name, err := stringParam(req, "name")
	if err != nil {
		return failure(req.ID, string(executor.ErrCodeToolFault), "%v", err)
	}

	doc, err := d.docs.Get(docName)
	if err != nil {
		return documentFailure(req.ID, err)
	}
	obj, err := doc.Object(name)
	if err != nil {
		return documentFailure(req.ID, err)
	}
	return success(req.ID, map[string]any{
		"document":   doc.Name(),
		"name":       obj.Name(),
		"type":       obj.Type(),
		"properties": obj.Properties(),
	})
}

func (d *Dispatcher) handleDeleteObject(ctx context.Context, req *Request) *Response {
	docName, err := optionalString(req, "doc_name")
	if err != nil {
		return failure(req.ID, string(executor.ErrCodeToolFault), "%v", err)
	}
	name, err := stringParam(req, "name")
	if err != nil {
		return failure(req.ID, string(executor.ErrCodeToolFault), "%v", err)
	}
	return d.submit(ctx, req, func() *Response {
		doc, err := d.docs.Get(docName)
		if err != nil {
			return documentFailure(req.ID, err)
		}
		if err := doc.RemoveObject(name); err != nil {
			return documentFailure(req.ID, err)
		}
		return success(req.ID, map[string]any{"document": doc.Name(), "name": name})
	})
}

// macroFailure maps macro store errors to response codes.
func macroFailure(id string, err error) *Response {
	code := string(executor.ErrCodeToolFault)
	switch {
	case errors.Is(err, macro.ErrNotFound):
		code = "NOT_FOUND"
	case errors.Is(err, macro.ErrExists):
		code = "ALREADY_EXISTS"
	case errors.Is(err, macro.ErrInvalidName):
		code = "INVALID_NAME"
	}
	return failure(id, code, "%v", err)
}

// documentFailure maps document store errors to response codes.
func documentFailure(id string, err error) *Response {
	code := string(executor.ErrCodeToolFault)
	switch {
	case errors.Is(err, document.ErrNotFound), errors.Is(err, document.ErrObjectNotFound):
		code = "NOT_FOUND"
	case errors.Is(err, document.ErrExists):
		code = "ALREADY_EXISTS"
	case errors.Is(err, document.ErrNoActive):
		code = "NO_ACTIVE_DOCUMENT"
	}
	return failure(id, code, "%v", err)
}
