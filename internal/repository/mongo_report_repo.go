package repository

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/hitoshi/lostfound/internal/model"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// reportDocument はMongoDB上のレポートドキュメント。
type reportDocument struct {
	ID               primitive.ObjectID `bson:"_id,omitempty"`
	Description      string             `bson:"description"`
	Location         model.GeoPoint     `bson:"location"`
	ImageURL         *string            `bson:"image_url"`
	OwnerID          *string            `bson:"owner_id"`
	OwnerDisplayName *string            `bson:"owner_display_name"`
	CreatedAt        time.Time          `bson:"created_at"`
	UpdatedAt        time.Time          `bson:"updated_at"`
}

func (d *reportDocument) toModel() model.Report {
	return model.Report{
		ID:               d.ID.Hex(),
		Description:      d.Description,
		Location:         d.Location,
		CreatedAt:        d.CreatedAt,
		ImageURL:         d.ImageURL,
		OwnerID:          d.OwnerID,
		OwnerDisplayName: d.OwnerDisplayName,
		UpdatedAt:        d.UpdatedAt,
	}
}

// MongoReportRepo はMongoDBを使用したレポートリポジトリ。
type MongoReportRepo struct {
	col *mongo.Collection
	now func() time.Time
}

// NewMongoReportRepo はMongoReportRepoを生成する。
func NewMongoReportRepo(col *mongo.Collection) *MongoReportRepo {
	return &MongoReportRepo{
		col: col,
		now: func() time.Time { return time.Now().UTC().Truncate(time.Millisecond) },
	}
}

// Insert はレポートを作成する。created_atはサーバー側の時刻で採番する。
func (r *MongoReportRepo) Insert(ctx context.Context, in model.NewReport) (*model.Report, error) {
	now := r.now()
	doc := reportDocument{
		Description:      in.Description,
		Location:         in.Location,
		ImageURL:         in.ImageURL,
		OwnerID:          in.OwnerID,
		OwnerDisplayName: in.OwnerDisplayName,
		CreatedAt:        now,
		UpdatedAt:        now,
	}
	res, err := r.col.InsertOne(ctx, doc)
	if err != nil {
		return nil, fmt.Errorf("failed to insert report: %w", err)
	}
	oid, ok := res.InsertedID.(primitive.ObjectID)
	if !ok {
		return nil, fmt.Errorf("unexpected inserted id type %T", res.InsertedID)
	}
	doc.ID = oid
	report := doc.toModel()
	return &report, nil
}

// Update はdescription/image_urlを部分更新する。
func (r *MongoReportRepo) Update(ctx context.Context, id string, patch model.ReportPatch) (*model.Report, error) {
	oid, err := primitive.ObjectIDFromHex(id)
	if err != nil {
		return nil, ErrReportNotFound
	}

	set := bson.M{"updated_at": r.now()}
	if patch.Description != nil {
		set["description"] = *patch.Description
	}
	if patch.ImageURL != nil {
		set["image_url"] = *patch.ImageURL
	}

	var doc reportDocument
	err = r.col.FindOneAndUpdate(ctx,
		bson.M{"_id": oid},
		bson.M{"$set": set},
		options.FindOneAndUpdate().SetReturnDocument(options.After),
	).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, ErrReportNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to update report: %w", err)
	}
	report := doc.toModel()
	return &report, nil
}

// FindByID は指定IDのレポートを取得する。見つからない場合はnilを返す。
func (r *MongoReportRepo) FindByID(ctx context.Context, id string) (*model.Report, error) {
	oid, err := primitive.ObjectIDFromHex(id)
	if err != nil {
		return nil, nil
	}

	var doc reportDocument
	err = r.col.FindOne(ctx, bson.M{"_id": oid}).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find report: %w", err)
	}
	report := doc.toModel()
	return &report, nil
}

// AnonymizeOwner は指定ユーザーが作成したレポートのowner_idと表示名をnullにする。
func (r *MongoReportRepo) AnonymizeOwner(ctx context.Context, ownerID string) (int64, error) {
	res, err := r.col.UpdateMany(ctx,
		bson.M{"owner_id": ownerID},
		bson.M{"$set": bson.M{
			"owner_id":           nil,
			"owner_display_name": nil,
			"updated_at":         r.now(),
		}},
	)
	if err != nil {
		return 0, fmt.Errorf("failed to anonymize reports: %w", err)
	}
	return res.ModifiedCount, nil
}

// ListOrdered は全レポートをcreated_at降順、同時刻は_id昇順で返す。
func (r *MongoReportRepo) ListOrdered(ctx context.Context) ([]model.Report, error) {
	opts := options.Find().SetSort(bson.D{{Key: "created_at", Value: -1}, {Key: "_id", Value: 1}})
	cur, err := r.col.Find(ctx, bson.M{}, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to list reports: %w", err)
	}
	defer cur.Close(ctx)

	reports := make([]model.Report, 0)
	for cur.Next(ctx) {
		var doc reportDocument
		if err := cur.Decode(&doc); err != nil {
			return nil, fmt.Errorf("failed to decode report: %w", err)
		}
		reports = append(reports, doc.toModel())
	}
	if err := cur.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate reports: %w", err)
	}
	return reports, nil
}

// MongoReportWatcher はChange Streamでレポートコレクションの変更を監視する。
// Change StreamはレプリカセットまたはシャードクラスタのMongoDBでのみ利用できる。
type MongoReportWatcher struct {
	col          *mongo.Collection
	logger       *slog.Logger
	RetryBackoff time.Duration
}

// NewMongoReportWatcher はMongoReportWatcherを生成する。
func NewMongoReportWatcher(col *mongo.Collection, logger *slog.Logger) *MongoReportWatcher {
	return &MongoReportWatcher{col: col, logger: logger, RetryBackoff: 2 * time.Second}
}

// Watch はChange Streamを開き、変更イベントのたびにチャネルへ値を送る。
// ストリームが切断された場合は再度開き直し、再接続時にも1回通知する。
func (w *MongoReportWatcher) Watch(ctx context.Context) (<-chan struct{}, error) {
	stream, err := w.col.Watch(ctx, mongo.Pipeline{})
	if err != nil {
		return nil, fmt.Errorf("failed to open change stream: %w", err)
	}

	out := make(chan struct{}, 1)
	go func() {
		defer close(out)
		for {
			for stream.Next(ctx) {
				signal(out)
			}
			if err := stream.Err(); err != nil && ctx.Err() == nil {
				w.logger.Warn("report change stream closed", slog.String("error", err.Error()))
			}
			stream.Close(context.Background())

			for {
				select {
				case <-ctx.Done():
					return
				case <-time.After(w.RetryBackoff):
				}
				stream, err = w.col.Watch(ctx, mongo.Pipeline{})
				if err == nil {
					signal(out)
					break
				}
				w.logger.Warn("failed to reopen change stream", slog.String("error", err.Error()))
			}
		}
	}()
	return out, nil
}

// compile-time interface check
var (
	_ ReportRepository = (*MongoReportRepo)(nil)
	_ ReportWatcher    = (*MongoReportWatcher)(nil)
)
