// Package server exposes the engine over gRPC
package server

import (
	"context"
	"errors"
	"fmt"
	"time"

	json "github.com/goccy/go-json"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/nainya/boltindex/internal/logger"
	"github.com/nainya/boltindex/pkg/document"
	"github.com/nainya/boltindex/pkg/engine"
	"github.com/nainya/boltindex/pkg/errs"
	"github.com/nainya/boltindex/pkg/hierarchy"
)

// Version is reported by Health
const Version = "1.0.0"

// Server implements BoltIndexServer on top of an engine
type Server struct {
	engine    *engine.Engine
	log       *logger.Logger
	startTime time.Time
}

// NewServer creates a new gRPC server instance
func NewServer(e *engine.Engine, log *logger.Logger) *Server {
	return &Server{engine: e, log: log, startTime: time.Now()}
}

// statusError maps an engine error onto a gRPC status
func statusError(err error) error {
	if err == nil {
		return nil
	}
	if _, ok := status.FromError(err); ok {
		return err
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return status.Error(codes.DeadlineExceeded, err.Error())
	}
	var code codes.Code
	switch errs.KindOf(err) {
	case errs.KindInput:
		code = codes.InvalidArgument
	case errs.KindCapability:
		code = codes.Unavailable
	case errs.KindConcurrency:
		code = codes.Aborted
	case errs.KindValidation:
		code = codes.FailedPrecondition
	case errs.KindNotFound:
		code = codes.NotFound
	case errs.KindCanceled:
		code = codes.Canceled
	default:
		code = codes.Internal
	}
	return status.Error(code, err.Error())
}

// toStruct converts any JSON-encodable value to a Struct
func toStruct(v any) (*structpb.Struct, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, status.Errorf(codes.Internal, "encode response: %v", err)
	}
	var m map[string]any
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, status.Errorf(codes.Internal, "encode response: %v", err)
	}
	out, err := structpb.NewStruct(m)
	if err != nil {
		return nil, status.Errorf(codes.Internal, "encode response: %v", err)
	}
	return out, nil
}

func str(req *structpb.Struct, key string) string {
	return req.GetFields()[key].GetStringValue()
}

func required(req *structpb.Struct, keys ...string) error {
	for _, k := range keys {
		if str(req, k) == "" {
			return status.Errorf(codes.InvalidArgument, "%s is required", k)
		}
	}
	return nil
}

type hierarchyView struct {
	DocumentID       string                     `json:"document_id"`
	RevisionID       string                     `json:"revision_id"`
	ParentRevisionID string                     `json:"parent_revision_id,omitempty"`
	RootID           string                     `json:"root_id"`
	Dimension        int                        `json:"dimension"`
	CreatedAt        time.Time                  `json:"created_at"`
	Nodes            map[string]*hierarchy.Node `json:"nodes"`
	Edges            []hierarchy.Edge           `json:"edges"`
}

// GetHierarchy returns a revision; vectors are omitted unless include_vectors is set
func (s *Server) GetHierarchy(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	if err := required(req, "document_id"); err != nil {
		return nil, err
	}
	h, err := s.engine.GetHierarchy(ctx, str(req, "document_id"), str(req, "revision_id"))
	if err != nil {
		return nil, statusError(err)
	}
	withVectors := req.GetFields()["include_vectors"].GetBoolValue()
	nodes := make(map[string]*hierarchy.Node, len(h.Nodes))
	for id, n := range h.Nodes {
		if !withVectors {
			n = n.Clone()
			n.Vector = nil
			n.Views = hierarchy.Views{}
		}
		nodes[id] = n
	}
	return toStruct(hierarchyView{
		DocumentID:       h.DocumentID,
		RevisionID:       h.RevisionID,
		ParentRevisionID: h.ParentRevisionID,
		RootID:           h.RootID,
		Dimension:        h.Dimension,
		CreatedAt:        h.CreatedAt,
		Nodes:            nodes,
		Edges:            h.Edges,
	})
}

// GetNode returns one live node of the head revision
func (s *Server) GetNode(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	if err := required(req, "document_id", "node_id"); err != nil {
		return nil, err
	}
	n, err := s.engine.GetNode(ctx, str(req, "document_id"), str(req, "node_id"))
	if err != nil {
		return nil, statusError(err)
	}
	return toStruct(n)
}

type hitView struct {
	DocumentID  string  `json:"document_id"`
	RevisionID  string  `json:"revision_id"`
	NodeID      string  `json:"node_id"`
	Granularity string  `json:"granularity"`
	Title       string  `json:"title,omitempty"`
	Score       float64 `json:"score"`
}

// Search accepts either a query vector or query text
func (s *Server) Search(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	f := req.GetFields()
	opts := engine.SearchOptions{
		K:          int(f["k"].GetNumberValue()),
		MinScore:   f["min_score"].GetNumberValue(),
		DocumentID: str(req, "document_id"),
	}
	for _, v := range f["granularities"].GetListValue().GetValues() {
		g, err := hierarchy.ParseGranularity(v.GetStringValue())
		if err != nil {
			return nil, status.Error(codes.InvalidArgument, err.Error())
		}
		opts.Granularities = append(opts.Granularities, g)
	}

	var (
		hits []engine.Hit
		err  error
	)
	switch {
	case f["vector"].GetListValue() != nil:
		values := f["vector"].GetListValue().GetValues()
		query := make([]float32, len(values))
		for i, v := range values {
			query[i] = float32(v.GetNumberValue())
		}
		hits, err = s.engine.Search(ctx, query, opts)
	case str(req, "text") != "":
		hits, err = s.engine.SearchText(ctx, str(req, "text"), opts)
	default:
		return nil, status.Error(codes.InvalidArgument, "vector or text is required")
	}
	if errors.Is(err, errs.ErrDimensionMismatch) {
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}
	if err != nil {
		return nil, statusError(err)
	}

	out := make([]hitView, len(hits))
	for i, h := range hits {
		out[i] = hitView{
			DocumentID:  h.DocumentID,
			RevisionID:  h.RevisionID,
			NodeID:      h.NodeID,
			Granularity: h.Granularity.String(),
			Title:       h.Title,
			Score:       h.Score,
		}
	}
	return toStruct(map[string]any{"hits": out})
}

type sectionInput struct {
	Heading    string   `json:"heading"`
	Paragraphs []string `json:"paragraphs"`
}

type documentInput struct {
	Title       string            `json:"title"`
	Sections    []sectionInput    `json:"sections"`
	ContentType string            `json:"content_type"`
	Metadata    map[string]string `json:"metadata"`
}

// decodeDocument reads either a markdown body or a structured document
func decodeDocument(req *structpb.Struct, documentID string) (*document.Document, error) {
	if md := str(req, "markdown"); md != "" {
		return document.Parse(documentID, md), nil
	}
	sv := req.GetFields()["document"].GetStructValue()
	if sv == nil {
		return nil, status.Error(codes.InvalidArgument, "markdown or document is required")
	}
	data, err := sv.MarshalJSON()
	if err != nil {
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}
	var in documentInput
	if err := json.Unmarshal(data, &in); err != nil {
		return nil, status.Errorf(codes.InvalidArgument, "decode document: %v", err)
	}
	doc := &document.Document{
		ID:          documentID,
		Title:       in.Title,
		ContentType: in.ContentType,
		Metadata:    in.Metadata,
		UpdatedAt:   time.Now(),
	}
	for _, sec := range in.Sections {
		doc.Sections = append(doc.Sections, document.Section{Heading: sec.Heading, Paragraphs: sec.Paragraphs})
	}
	return doc, nil
}

// ApplyUpdate commits a new revision of a document
func (s *Server) ApplyUpdate(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	if err := required(req, "document_id"); err != nil {
		return nil, err
	}
	id := str(req, "document_id")
	doc, err := decodeDocument(req, id)
	if err != nil {
		return nil, err
	}
	res, err := s.engine.ApplyUpdate(ctx, id, doc)
	if err != nil {
		st := statusError(err)
		if res != nil && res.Report != nil {
			s.log.Warn("update rejected by validation").
				Str("document_id", id).
				Int("fatal", len(res.Report.Fatal)).
				Send()
		}
		return nil, st
	}
	out := map[string]any{
		"document_id":        res.DocumentID,
		"revision_id":        res.RevisionID,
		"parent_revision_id": res.ParentRevisionID,
		"seq":                res.Seq,
		"full_rebuild":       res.FullRebuild,
		"summary":            res.Summary,
		"impact":             res.Impact,
	}
	if res.Report != nil {
		out["warnings"] = res.Report.Warnings
	}
	return toStruct(out)
}

// History lists the revisions of a document, or the one current at as_of.
// With lineage set it walks parent pointers from revision_id (default head).
func (s *Server) History(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	if err := required(req, "document_id"); err != nil {
		return nil, err
	}
	id := str(req, "document_id")
	if req.GetFields()["lineage"].GetBoolValue() {
		chain, err := s.engine.Lineage(ctx, id, str(req, "revision_id"))
		if err != nil {
			return nil, statusError(err)
		}
		return toStruct(map[string]any{"document_id": id, "revisions": chain})
	}
	if at := str(req, "as_of"); at != "" {
		t, err := time.Parse(time.RFC3339Nano, at)
		if err != nil {
			return nil, status.Errorf(codes.InvalidArgument, "as_of: %v", err)
		}
		m, err := s.engine.AsOf(ctx, id, t)
		if err != nil {
			return nil, statusError(err)
		}
		return toStruct(map[string]any{"document_id": id, "revisions": []any{m}})
	}
	h, err := s.engine.History(ctx, id)
	if err != nil {
		return nil, statusError(err)
	}
	return toStruct(map[string]any{"document_id": id, "revisions": h.Revisions})
}

// Health reports liveness
func (s *Server) Health(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	return toStruct(map[string]any{
		"healthy":        true,
		"version":        Version,
		"uptime_seconds": int64(time.Since(s.startTime).Seconds()),
	})
}

// Stats reports corpus counters
func (s *Server) Stats(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	st := s.engine.Stats()
	docs, err := s.engine.Documents(ctx)
	if err != nil {
		return nil, statusError(fmt.Errorf("list documents: %w", err))
	}
	return toStruct(map[string]any{
		"documents":        len(docs),
		"loaded_documents": st.Documents,
		"live_nodes":       st.LiveNodes,
		"in_flight":        st.InFlight,
		"by_granularity":   st.ByGranularity,
	})
}
