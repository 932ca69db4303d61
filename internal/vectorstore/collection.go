package vectorstore

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"sort"
	"time"

	"github.com/fyrsmithlabs/ragd/internal/embeddings"
	"github.com/fyrsmithlabs/ragd/internal/logging"
	"github.com/fyrsmithlabs/ragd/internal/metadata"
	"github.com/fyrsmithlabs/ragd/internal/qdrant"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

var tracer = otel.Tracer("github.com/fyrsmithlabs/ragd/internal/vectorstore")

// collectionNamePattern: lowercase letters, numbers, underscores, 1-64 characters.
var collectionNamePattern = regexp.MustCompile(`^[a-z0-9_]{1,64}$`)

// VisualizeLimit caps the records exported by Visualize.
const VisualizeLimit = 5000

// QueryLabel marks the projected query point in Visualize output.
const QueryLabel = "USER_QUERY"

// Payload keys written for every stored node.
const (
	PayloadContent      = "content"
	PayloadChunkID      = "chunk_id"
	PayloadDocID        = "doc_id"
	PayloadDataSourceID = "data_source_id"
	PayloadFileName     = "file_name"
	PayloadChunkIndex   = "chunk_index"
)

var (
	// ErrInvalidCollectionName is returned for a name outside ^[a-z0-9_]{1,64}$.
	ErrInvalidCollectionName = errors.New("invalid collection name")

	// ErrInvalidNodeID is returned for node ids the backend cannot address.
	ErrInvalidNodeID = errors.New("invalid node id")

	// ErrNodeNotFound is returned when a node id is absent from the collection.
	ErrNodeNotFound = errors.New("node not found")
)

// ValidateCollectionName rejects uppercase, special characters, path
// traversal and spaces.
func ValidateCollectionName(name string) error {
	if !collectionNamePattern.MatchString(name) {
		return fmt.Errorf("%w: %q", ErrInvalidCollectionName, name)
	}
	return nil
}

// Node is one stored chunk or summary.
type Node struct {
	ID           string                 `json:"node_id"`
	DataSourceID int64                  `json:"data_source_id"`
	DocID        string                 `json:"doc_id"`
	FileName     string                 `json:"source_file_name,omitempty"`
	ChunkIndex   int                    `json:"chunk_index"`
	Content      string                 `json:"content"`
	Score        float64                `json:"score"`
	Metadata     map[string]interface{} `json:"metadata,omitempty"`
}

// NodeFailure records why one id could not be fetched.
type NodeFailure struct {
	ID  string
	Err error
}

// NodeLookup is the partial result of GetNodes.
type NodeLookup struct {
	Nodes    []Node
	Failures []NodeFailure
}

// Point2D is one projected vector.
type Point2D struct {
	X     float64 `json:"x"`
	Y     float64 `json:"y"`
	Label string  `json:"label"`
}

// Collection is a handle on one data source's chunk or summary collection.
//
// Handles are cheap and hold no state beyond their identity; two handles with
// the same Name address the same physical collection.
type Collection struct {
	name         string
	purpose      Purpose
	dataSourceID int64

	backend     qdrant.Client
	dataSources metadata.DataSources
	models      embeddings.Resolver
	logger      *logging.Logger
}

// Name returns the backend collection name.
func (c *Collection) Name() string { return c.name }

// Purpose returns whether the collection holds chunks or summaries.
func (c *Collection) Purpose() Purpose { return c.purpose }

// DataSourceID returns the owning data source.
func (c *Collection) DataSourceID() int64 { return c.dataSourceID }

func (c *Collection) start(ctx context.Context, operation string) (context.Context, trace.Span, time.Time) {
	ctx, span := tracer.Start(ctx, "Collection."+operation)
	span.SetAttributes(
		attribute.String("collection", c.name),
		attribute.String("purpose", string(c.purpose)),
		attribute.Int64("data_source.id", c.dataSourceID),
	)
	return logging.WithDataSourceID(ctx, c.dataSourceID), span, time.Now()
}

func (c *Collection) finish(span trace.Span, operation string, began time.Time, err error) {
	recordOperation(operation, c.purpose, time.Since(began).Seconds(), err)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	} else {
		span.SetStatus(codes.Ok, "success")
	}
	span.End()
}

// Exists reports whether the collection has been created.
func (c *Collection) Exists(ctx context.Context) (exists bool, err error) {
	ctx, span, began := c.start(ctx, "Exists")
	defer func() { c.finish(span, "exists", began, err) }()

	return c.exists(ctx)
}

func (c *Collection) exists(ctx context.Context) (bool, error) {
	if err := ValidateCollectionName(c.name); err != nil {
		return false, err
	}
	exists, err := c.backend.CollectionExists(ctx, c.name)
	if err != nil {
		return false, fmt.Errorf("checking collection %s: %w", c.name, err)
	}
	return exists, nil
}

// Size returns the number of stored vectors. ok is false when the collection
// has never been created, which is distinct from an empty collection.
func (c *Collection) Size(ctx context.Context) (count int64, ok bool, err error) {
	ctx, span, began := c.start(ctx, "Size")
	defer func() { c.finish(span, "size", began, err) }()

	exists, err := c.exists(ctx)
	if err != nil || !exists {
		return 0, false, err
	}
	n, err := c.backend.Count(ctx, c.name)
	if err != nil {
		return 0, false, fmt.Errorf("counting collection %s: %w", c.name, err)
	}
	span.SetAttributes(attribute.Int64("size", int64(n)))
	return int64(n), true, nil
}

// Delete drops the collection and every vector in it. It is a no-op when
// the collection does not exist.
func (c *Collection) Delete(ctx context.Context) (err error) {
	ctx, span, began := c.start(ctx, "Delete")
	defer func() { c.finish(span, "delete", began, err) }()

	exists, err := c.exists(ctx)
	if err != nil || !exists {
		return err
	}
	if err := c.backend.DeleteCollection(ctx, c.name); err != nil {
		return fmt.Errorf("deleting collection %s: %w", c.name, err)
	}
	c.logger.Info(ctx, "collection deleted", zap.String("collection", c.name))
	return nil
}

// DeleteDocument removes every node belonging to docID. It is a no-op when
// the collection does not exist.
func (c *Collection) DeleteDocument(ctx context.Context, docID string) (err error) {
	ctx, span, began := c.start(ctx, "DeleteDocument")
	defer func() { c.finish(span, "delete_document", began, err) }()
	span.SetAttributes(attribute.String("doc_id", docID))

	exists, err := c.exists(ctx)
	if err != nil || !exists {
		return err
	}
	if err := c.backend.DeleteByFilter(ctx, c.name, qdrant.FieldEquals(PayloadDocID, docID)); err != nil {
		return fmt.Errorf("deleting document %s from %s: %w", docID, c.name, err)
	}
	return nil
}

// EmbeddingModel resolves the model the owning data source is configured
// with. The lookup runs on every call since the data source record can change
// between indexing runs.
func (c *Collection) EmbeddingModel(ctx context.Context) (embeddings.Model, error) {
	ds, err := c.dataSources.DataSource(ctx, c.dataSourceID)
	if err != nil {
		return nil, fmt.Errorf("resolving embedding model: %w", err)
	}
	m, err := c.models.Get(ds.EmbeddingModel)
	if err != nil {
		return nil, fmt.Errorf("data source %d: %w", c.dataSourceID, err)
	}
	return m, nil
}

// Visualize projects up to VisualizeLimit stored vectors onto two dimensions,
// labelled by file name. When query is non-empty its embedding is projected
// into the same space under QueryLabel. Records without a file name are
// skipped. An absent collection yields an empty result.
func (c *Collection) Visualize(ctx context.Context, query string) (points []Point2D, err error) {
	ctx, span, began := c.start(ctx, "Visualize")
	defer func() { c.finish(span, "visualize", began, err) }()

	exists, err := c.exists(ctx)
	if err != nil || !exists {
		return []Point2D{}, err
	}

	records, err := c.backend.Scroll(ctx, c.name, VisualizeLimit, true)
	if err != nil {
		return nil, fmt.Errorf("scrolling %s: %w", c.name, err)
	}
	if len(records) > VisualizeLimit {
		records = records[:VisualizeLimit]
	}

	var vectors [][]float32
	var labels []string
	for _, r := range records {
		name, _ := r.Payload[PayloadFileName].(string)
		if name == "" || len(r.Vector) == 0 {
			continue
		}
		if len(vectors) > 0 && len(r.Vector) != len(vectors[0]) {
			continue
		}
		vectors = append(vectors, r.Vector)
		labels = append(labels, name)
	}
	span.SetAttributes(
		attribute.Int("records_scrolled", len(records)),
		attribute.Int("records_projected", len(vectors)),
	)
	if len(vectors) == 0 {
		return []Point2D{}, nil
	}

	var queryVector []float32
	if query != "" {
		model, err := c.EmbeddingModel(ctx)
		if err != nil {
			return nil, err
		}
		queryVector, err = model.EmbedQuery(ctx, query)
		if err != nil {
			return nil, fmt.Errorf("embedding visualization query: %w", err)
		}
	}

	proj := fitPCA(vectors)
	points = make([]Point2D, 0, len(vectors)+1)
	for i, v := range vectors {
		x, y := proj.project(v)
		points = append(points, Point2D{X: x, Y: y, Label: labels[i]})
	}
	if queryVector != nil {
		x, y := proj.project(queryVector)
		points = append(points, Point2D{X: x, Y: y, Label: QueryLabel})
	}
	return points, nil
}

// GetNodes fetches nodes by id. It never fails as a whole: ids that are
// malformed, missing, or hit a backend error are reported in Failures and the
// remaining nodes are returned in request order.
func (c *Collection) GetNodes(ctx context.Context, ids []string) NodeLookup {
	ctx, span, began := c.start(ctx, "GetNodes")
	var lookup NodeLookup
	defer func() {
		span.SetAttributes(
			attribute.Int("requested", len(ids)),
			attribute.Int("found", len(lookup.Nodes)),
			attribute.Int("failed", len(lookup.Failures)),
		)
		var err error
		if len(lookup.Failures) > 0 {
			err = fmt.Errorf("%d of %d nodes unresolved", len(lookup.Failures), len(ids))
		}
		c.finish(span, "get_nodes", began, err)
	}()

	valid := make([]string, 0, len(ids))
	for _, id := range ids {
		if _, err := uuid.Parse(id); err != nil {
			lookup.Failures = append(lookup.Failures, NodeFailure{ID: id, Err: fmt.Errorf("%w: %q", ErrInvalidNodeID, id)})
			NodeLookupFailures.WithLabelValues("invalid_id").Inc()
			continue
		}
		valid = append(valid, id)
	}
	if len(valid) == 0 {
		return lookup
	}

	points, err := c.backend.Get(ctx, c.name, valid)
	if err != nil {
		err = fmt.Errorf("fetching nodes from %s: %w", c.name, err)
		for _, id := range valid {
			lookup.Failures = append(lookup.Failures, NodeFailure{ID: id, Err: err})
		}
		NodeLookupFailures.WithLabelValues("backend").Add(float64(len(valid)))
		return lookup
	}

	byID := make(map[string]*qdrant.Point, len(points))
	for _, p := range points {
		byID[p.ID] = p
	}
	for _, id := range valid {
		p, ok := byID[id]
		if !ok {
			lookup.Failures = append(lookup.Failures, NodeFailure{ID: id, Err: fmt.Errorf("%w: %s", ErrNodeNotFound, id)})
			NodeLookupFailures.WithLabelValues("not_found").Inc()
			continue
		}
		lookup.Nodes = append(lookup.Nodes, c.nodeFromPayload(p.ID, p.Payload, 0))
	}
	return lookup
}

// Query returns the topK nodes nearest to text, embedded with the data
// source's configured model. filter may be nil.
func (c *Collection) Query(ctx context.Context, text string, topK int, filter *qdrant.Filter) (nodes []Node, err error) {
	ctx, span, began := c.start(ctx, "Query")
	defer func() { c.finish(span, "query", began, err) }()
	span.SetAttributes(attribute.Int("top_k", topK))

	if topK <= 0 {
		return nil, nil
	}
	model, err := c.EmbeddingModel(ctx)
	if err != nil {
		return nil, err
	}
	vector, err := model.EmbedQuery(ctx, text)
	if err != nil {
		return nil, fmt.Errorf("embedding query: %w", err)
	}

	results, err := c.backend.Search(ctx, c.name, vector, uint64(topK), filter)
	if err != nil {
		return nil, fmt.Errorf("searching %s: %w", c.name, err)
	}

	nodes = make([]Node, 0, len(results))
	for _, r := range results {
		nodes = append(nodes, c.nodeFromPayload(r.ID, r.Payload, float64(r.Score)))
	}
	sort.SliceStable(nodes, func(i, j int) bool { return nodes[i].Score > nodes[j].Score })
	span.SetAttributes(attribute.Int("results_count", len(nodes)))
	return nodes, nil
}

// AddNodes embeds and stores nodes, creating the collection sized to the
// embedding dimension on first write. Node ids must be UUIDs.
func (c *Collection) AddNodes(ctx context.Context, nodes []Node) (err error) {
	ctx, span, began := c.start(ctx, "AddNodes")
	defer func() { c.finish(span, "add_nodes", began, err) }()
	span.SetAttributes(attribute.Int("nodes", len(nodes)))

	if len(nodes) == 0 {
		return nil
	}
	return c.store(ctx, nodes)
}

// ReplaceDocument stores nodes as the full content of docID and then removes
// any other nodes the document had. If embedding or upserting fails the
// previous nodes are left in place. An empty nodes slice removes the document.
func (c *Collection) ReplaceDocument(ctx context.Context, docID string, nodes []Node) (err error) {
	ctx, span, began := c.start(ctx, "ReplaceDocument")
	defer func() { c.finish(span, "replace_document", began, err) }()
	span.SetAttributes(attribute.String("doc_id", docID), attribute.Int("nodes", len(nodes)))

	keep := make([]string, 0, len(nodes))
	for i := range nodes {
		if nodes[i].DocID != "" && nodes[i].DocID != docID {
			return fmt.Errorf("%w: node %s belongs to document %q", ErrInvalidNodeID, nodes[i].ID, nodes[i].DocID)
		}
		nodes[i].DocID = docID
		keep = append(keep, nodes[i].ID)
	}
	if len(nodes) > 0 {
		if err := c.store(ctx, nodes); err != nil {
			return err
		}
	}

	exists, err := c.exists(ctx)
	if err != nil || !exists {
		return err
	}
	stale := qdrant.FieldEquals(PayloadDocID, docID)
	if len(keep) > 0 {
		stale.MustNot = []qdrant.Condition{{Field: PayloadChunkID, MatchAny: keep}}
	}
	if err := c.backend.DeleteByFilter(ctx, c.name, stale); err != nil {
		return fmt.Errorf("removing stale nodes of %s from %s: %w", docID, c.name, err)
	}
	return nil
}

// store embeds every node before touching the backend, so a failed embedding
// writes nothing.
func (c *Collection) store(ctx context.Context, nodes []Node) error {
	for _, n := range nodes {
		if _, err := uuid.Parse(n.ID); err != nil {
			return fmt.Errorf("%w: %q", ErrInvalidNodeID, n.ID)
		}
	}

	model, err := c.EmbeddingModel(ctx)
	if err != nil {
		return err
	}
	texts := make([]string, len(nodes))
	for i, n := range nodes {
		texts[i] = n.Content
	}
	vectors, err := model.EmbedDocuments(ctx, texts)
	if err != nil {
		return fmt.Errorf("embedding %d nodes: %w", len(nodes), err)
	}

	exists, err := c.exists(ctx)
	if err != nil {
		return err
	}
	if !exists {
		if err := c.backend.CreateCollection(ctx, c.name, uint64(len(vectors[0]))); err != nil {
			return fmt.Errorf("creating collection %s: %w", c.name, err)
		}
		c.logger.Info(ctx, "collection created",
			zap.String("collection", c.name),
			zap.Int("dimension", len(vectors[0])),
			zap.String("embedding_model", model.Name()),
		)
	}

	points := make([]*qdrant.Point, len(nodes))
	for i, n := range nodes {
		points[i] = &qdrant.Point{ID: n.ID, Vector: vectors[i], Payload: c.payloadFor(n)}
	}
	if err := c.backend.Upsert(ctx, c.name, points); err != nil {
		return fmt.Errorf("upserting into %s: %w", c.name, err)
	}
	return nil
}

func (c *Collection) payloadFor(n Node) map[string]interface{} {
	payload := make(map[string]interface{}, len(n.Metadata)+6)
	for k, v := range n.Metadata {
		payload[k] = v
	}
	payload[PayloadContent] = n.Content
	payload[PayloadChunkID] = n.ID
	payload[PayloadDocID] = n.DocID
	payload[PayloadDataSourceID] = c.dataSourceID
	payload[PayloadChunkIndex] = n.ChunkIndex
	if n.FileName != "" {
		payload[PayloadFileName] = n.FileName
	}
	return payload
}

var reservedPayloadKeys = map[string]bool{
	PayloadContent:      true,
	PayloadChunkID:      true,
	PayloadDocID:        true,
	PayloadDataSourceID: true,
	PayloadFileName:     true,
	PayloadChunkIndex:   true,
}

func (c *Collection) nodeFromPayload(id string, payload map[string]interface{}, score float64) Node {
	n := Node{ID: id, DataSourceID: c.dataSourceID, Score: score}
	n.Content, _ = payload[PayloadContent].(string)
	n.DocID, _ = payload[PayloadDocID].(string)
	n.FileName, _ = payload[PayloadFileName].(string)
	if idx, ok := payload[PayloadChunkIndex].(int64); ok {
		n.ChunkIndex = int(idx)
	}
	for k, v := range payload {
		if reservedPayloadKeys[k] {
			continue
		}
		if n.Metadata == nil {
			n.Metadata = make(map[string]interface{})
		}
		n.Metadata[k] = v
	}
	return n
}
