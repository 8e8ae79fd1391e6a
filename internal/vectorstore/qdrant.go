package vectorstore

import (
	"context"
	"strconv"

	"github.com/google/uuid"
	"github.com/qdrant/go-client/qdrant"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/shelfd/internal/apperr"
)

// QdrantStore is the remote backend over the qdrant gRPC client.
type QdrantStore struct {
	client *qdrant.Client
	logger *zap.Logger
}

// QdrantConfig holds connection settings.
type QdrantConfig struct {
	Host   string
	Port   int
	APIKey string
	UseTLS bool
}

// NewQdrantStore connects to a qdrant instance.
func NewQdrantStore(cfg QdrantConfig, logger *zap.Logger) (*QdrantStore, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Host == "" {
		cfg.Host = "localhost"
	}
	if cfg.Port == 0 {
		cfg.Port = 6334
	}

	client, err := qdrant.NewClient(&qdrant.Config{
		Host:   cfg.Host,
		Port:   cfg.Port,
		APIKey: cfg.APIKey,
		UseTLS: cfg.UseTLS,
	})
	if err != nil {
		return nil, apperr.Wrap(apperr.KindUnavailable, "vector_store_unavailable",
			"connecting to qdrant", err)
	}

	logger.Info("vector store connected",
		zap.String("backend", "qdrant"),
		zap.String("host", cfg.Host),
		zap.Int("port", cfg.Port),
	)
	return &QdrantStore{client: client, logger: logger}, nil
}

// pointID maps a chunk id onto a deterministic qdrant UUID.
func pointID(chunkID string) *qdrant.PointId {
	return qdrant.NewIDUUID(uuid.NewSHA1(uuid.NameSpaceOID, []byte(chunkID)).String())
}

// fingerprintCollection is the bookkeeping collection holding one point
// per data collection with its embedding fingerprint. Qdrant has no
// collection-level metadata, and the hyphen keeps the name outside the
// sanitized id alphabet.
const fingerprintCollection = "shelfd-meta"

// Fingerprint returns the recorded embedding fingerprint for the
// collection, or "".
func (s *QdrantStore) Fingerprint(ctx context.Context, collection string) (string, error) {
	exists, err := s.client.CollectionExists(ctx, fingerprintCollection)
	if err != nil {
		return "", apperr.Wrap(apperr.KindUnavailable, "vector_store_unavailable",
			"checking fingerprints", err)
	}
	if !exists {
		return "", nil
	}

	points, err := s.client.Get(ctx, &qdrant.GetPoints{
		CollectionName: fingerprintCollection,
		Ids:            []*qdrant.PointId{pointID(collection)},
		WithPayload:    qdrant.NewWithPayload(true),
	})
	if err != nil {
		return "", apperr.Wrap(apperr.KindUnavailable, "vector_store_unavailable",
			"reading fingerprint", err)
	}
	for _, p := range points {
		if v, ok := p.Payload["fingerprint"]; ok {
			if kind, ok := v.Kind.(*qdrant.Value_StringValue); ok {
				return kind.StringValue, nil
			}
		}
	}
	return "", nil
}

// SetFingerprint records the collection's embedding fingerprint; an
// empty value clears it.
func (s *QdrantStore) SetFingerprint(ctx context.Context, collection, fingerprint string) error {
	if fingerprint == "" {
		exists, err := s.client.CollectionExists(ctx, fingerprintCollection)
		if err != nil {
			return apperr.Wrap(apperr.KindUnavailable, "vector_store_unavailable",
				"checking fingerprints", err)
		}
		if !exists {
			return nil
		}
		_, err = s.client.Delete(ctx, &qdrant.DeletePoints{
			CollectionName: fingerprintCollection,
			Points:         qdrant.NewPointsSelector(pointID(collection)),
			Wait:           qdrant.PtrOf(true),
		})
		if err != nil {
			return apperr.Wrap(apperr.KindUnavailable, "vector_store_unavailable",
				"clearing fingerprint", err)
		}
		return nil
	}

	if err := s.ensureCollection(ctx, fingerprintCollection, 1); err != nil {
		return err
	}
	_, err := s.client.Upsert(ctx, &qdrant.UpsertPoints{
		CollectionName: fingerprintCollection,
		Points: []*qdrant.PointStruct{{
			Id:      pointID(collection),
			Vectors: qdrant.NewVectors(0),
			Payload: map[string]*qdrant.Value{
				"collection":  {Kind: &qdrant.Value_StringValue{StringValue: collection}},
				"fingerprint": {Kind: &qdrant.Value_StringValue{StringValue: fingerprint}},
			},
		}},
		Wait: qdrant.PtrOf(true),
	})
	if err != nil {
		return apperr.Wrap(apperr.KindUnavailable, "vector_store_unavailable",
			"recording fingerprint", err)
	}
	return nil
}

func (s *QdrantStore) ensureCollection(ctx context.Context, name string, dim int) error {
	exists, err := s.client.CollectionExists(ctx, name)
	if err != nil {
		return apperr.Wrap(apperr.KindUnavailable, "vector_store_unavailable",
			"checking collection", err)
	}
	if exists {
		return nil
	}
	err = s.client.CreateCollection(ctx, &qdrant.CreateCollection{
		CollectionName: name,
		VectorsConfig: qdrant.NewVectorsConfig(&qdrant.VectorParams{
			Size:     uint64(dim),
			Distance: qdrant.Distance_Cosine,
		}),
	})
	if err != nil {
		return apperr.Wrap(apperr.KindUnavailable, "vector_store_unavailable",
			"creating collection", err)
	}
	return nil
}

func (s *QdrantStore) Upsert(ctx context.Context, collection string, records []Record) error {
	if len(records) == 0 {
		return nil
	}
	if incoming := recordFingerprint(records); incoming != "" {
		current, err := s.Fingerprint(ctx, collection)
		if err != nil {
			return err
		}
		switch {
		case current == "":
			if err := s.SetFingerprint(ctx, collection, incoming); err != nil {
				return err
			}
		case current != incoming:
			return fingerprintMismatch(collection, current, incoming)
		}
	}
	if err := s.ensureCollection(ctx, collection, len(records[0].Vector)); err != nil {
		return err
	}

	points := make([]*qdrant.PointStruct, len(records))
	for i, r := range records {
		payload := map[string]*qdrant.Value{
			"chunk_id": {Kind: &qdrant.Value_StringValue{StringValue: r.ChunkID}},
			"text":     {Kind: &qdrant.Value_StringValue{StringValue: r.Text}},
		}
		for k, v := range r.Metadata {
			payload[k] = qdrantValue(v)
		}
		points[i] = &qdrant.PointStruct{
			Id:      pointID(r.ChunkID),
			Vectors: qdrant.NewVectors(r.Vector...),
			Payload: payload,
		}
	}

	_, err := s.client.Upsert(ctx, &qdrant.UpsertPoints{
		CollectionName: collection,
		Points:         points,
		Wait:           qdrant.PtrOf(true),
	})
	if err != nil {
		return apperr.Wrap(apperr.KindUnavailable, "vector_store_unavailable",
			"upserting records", err)
	}
	return nil
}

func qdrantValue(v any) *qdrant.Value {
	switch val := v.(type) {
	case string:
		return &qdrant.Value{Kind: &qdrant.Value_StringValue{StringValue: val}}
	case bool:
		return &qdrant.Value{Kind: &qdrant.Value_BoolValue{BoolValue: val}}
	case int:
		return &qdrant.Value{Kind: &qdrant.Value_IntegerValue{IntegerValue: int64(val)}}
	case int32:
		return &qdrant.Value{Kind: &qdrant.Value_IntegerValue{IntegerValue: int64(val)}}
	case int64:
		return &qdrant.Value{Kind: &qdrant.Value_IntegerValue{IntegerValue: val}}
	case float32:
		return &qdrant.Value{Kind: &qdrant.Value_DoubleValue{DoubleValue: float64(val)}}
	case float64:
		return &qdrant.Value{Kind: &qdrant.Value_DoubleValue{DoubleValue: val}}
	default:
		return &qdrant.Value{Kind: &qdrant.Value_NullValue{}}
	}
}

func (s *QdrantStore) Query(ctx context.Context, collection string, vector []float32, limit int, threshold float32, filter map[string]string) ([]QueryResult, error) {
	exists, err := s.client.CollectionExists(ctx, collection)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindUnavailable, "vector_store_unavailable",
			"checking collection", err)
	}
	if !exists {
		return nil, nil
	}

	req := &qdrant.QueryPoints{
		CollectionName: collection,
		Query:          qdrant.NewQuery(vector...),
		Limit:          qdrant.PtrOf(uint64(limit)),
		WithPayload:    qdrant.NewWithPayload(true),
	}
	if threshold > 0 {
		req.ScoreThreshold = qdrant.PtrOf(threshold)
	}
	if len(filter) > 0 {
		conditions := make([]*qdrant.Condition, 0, len(filter))
		for key, value := range filter {
			conditions = append(conditions, qdrant.NewMatch(key, value))
		}
		req.Filter = &qdrant.Filter{Must: conditions}
	}

	points, err := s.client.Query(ctx, req)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindUnavailable, "vector_store_unavailable",
			"querying collection", err)
	}

	out := make([]QueryResult, 0, len(points))
	for _, p := range points {
		out = append(out, scoredToResult(p.Payload, p.Score))
	}
	return out, nil
}

func scoredToResult(payload map[string]*qdrant.Value, score float32) QueryResult {
	meta := make(map[string]string, len(payload))
	var chunkID, text string
	for key, value := range payload {
		var str string
		switch kind := value.Kind.(type) {
		case *qdrant.Value_StringValue:
			str = kind.StringValue
		case *qdrant.Value_IntegerValue:
			str = strconv.FormatInt(kind.IntegerValue, 10)
		case *qdrant.Value_DoubleValue:
			str = strconv.FormatFloat(kind.DoubleValue, 'f', -1, 64)
		case *qdrant.Value_BoolValue:
			str = strconv.FormatBool(kind.BoolValue)
		default:
			continue
		}
		switch key {
		case "chunk_id":
			chunkID = str
		case "text":
			text = str
		default:
			meta[key] = str
		}
	}
	return QueryResult{
		ChunkID:    chunkID,
		Text:       text,
		Score:      score,
		Metadata:   meta,
		RelatedIDs: RelatedFromMeta(meta),
	}
}

func (s *QdrantStore) Get(ctx context.Context, collection string, ids []string) ([]QueryResult, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	pointIDs := make([]*qdrant.PointId, len(ids))
	for i, id := range ids {
		pointIDs[i] = pointID(id)
	}

	points, err := s.client.Get(ctx, &qdrant.GetPoints{
		CollectionName: collection,
		Ids:            pointIDs,
		WithPayload:    qdrant.NewWithPayload(true),
	})
	if err != nil {
		return nil, apperr.Wrap(apperr.KindUnavailable, "vector_store_unavailable",
			"fetching records", err)
	}

	out := make([]QueryResult, 0, len(points))
	for _, p := range points {
		r := scoredToResult(p.Payload, 1)
		out = append(out, r)
	}
	return out, nil
}

func (s *QdrantStore) DeleteByIDs(ctx context.Context, collection string, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	pointIDs := make([]*qdrant.PointId, len(ids))
	for i, id := range ids {
		pointIDs[i] = pointID(id)
	}

	_, err := s.client.Delete(ctx, &qdrant.DeletePoints{
		CollectionName: collection,
		Points:         qdrant.NewPointsSelector(pointIDs...),
		Wait:           qdrant.PtrOf(true),
	})
	if err != nil {
		return apperr.Wrap(apperr.KindUnavailable, "vector_store_unavailable",
			"deleting records", err)
	}
	return nil
}

func (s *QdrantStore) DeleteByFilter(ctx context.Context, collection string, filter map[string]string) error {
	if len(filter) == 0 {
		return nil
	}
	conditions := make([]*qdrant.Condition, 0, len(filter))
	for key, value := range filter {
		conditions = append(conditions, qdrant.NewMatch(key, value))
	}
	_, err := s.client.Delete(ctx, &qdrant.DeletePoints{
		CollectionName: collection,
		Points: &qdrant.PointsSelector{
			PointsSelectorOneOf: &qdrant.PointsSelector_Filter{
				Filter: &qdrant.Filter{Must: conditions},
			},
		},
		Wait: qdrant.PtrOf(true),
	})
	if err != nil {
		return apperr.Wrap(apperr.KindUnavailable, "vector_store_unavailable",
			"deleting records by filter", err)
	}
	return nil
}

func (s *QdrantStore) DeleteCollection(ctx context.Context, collection string) error {
	exists, err := s.client.CollectionExists(ctx, collection)
	if err != nil {
		return apperr.Wrap(apperr.KindUnavailable, "vector_store_unavailable",
			"checking collection", err)
	}
	if !exists {
		return nil
	}
	if err := s.client.DeleteCollection(ctx, collection); err != nil {
		return apperr.Wrap(apperr.KindUnavailable, "vector_store_unavailable",
			"deleting collection", err)
	}
	return s.SetFingerprint(ctx, collection, "")
}

func (s *QdrantStore) Count(ctx context.Context, collection string) (int, error) {
	exists, err := s.client.CollectionExists(ctx, collection)
	if err != nil {
		return 0, apperr.Wrap(apperr.KindUnavailable, "vector_store_unavailable",
			"checking collection", err)
	}
	if !exists {
		return 0, nil
	}
	count, err := s.client.Count(ctx, &qdrant.CountPoints{
		CollectionName: collection,
		Exact:          qdrant.PtrOf(true),
	})
	if err != nil {
		return 0, apperr.Wrap(apperr.KindUnavailable, "vector_store_unavailable",
			"counting records", err)
	}
	return int(count), nil
}

func (s *QdrantStore) Close() error {
	return s.client.Close()
}
