package db

import (
	"context"
	"errors"
	"fmt"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/ukydev/fieldops/internal/models"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// ConnectMongo connects to MongoDB and verifies the connection with a ping.
func ConnectMongo(ctx context.Context, uri string) (*mongo.Client, error) {
	if uri == "" {
		uri = "mongodb://localhost:27017"
	}
	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, fmt.Errorf("mongo.Connect error: %w", err)
	}
	pingCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx, nil); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("mongo.Ping error: %w", err)
	}
	return client, nil
}

// MongoStore is the depot-side store. Transactions need a replica set.
type MongoStore struct {
	client      *mongo.Client
	jobs        *mongo.Collection
	technicians *mongo.Collection
	assets      *mongo.Collection
	checkouts   *mongo.Collection
	consumables *mongo.Collection
	usages      *mongo.Collection
	counters    *mongo.Collection
	inTx        bool
}

// NewMongoStore binds the store to database dbName and ensures its indexes.
func NewMongoStore(ctx context.Context, client *mongo.Client, dbName string) (*MongoStore, error) {
	database := client.Database(dbName)
	s := &MongoStore{
		client:      client,
		jobs:        database.Collection("jobs"),
		technicians: database.Collection("technicians"),
		assets:      database.Collection("assets"),
		checkouts:   database.Collection("checkouts"),
		consumables: database.Collection("consumables"),
		usages:      database.Collection("usages"),
		counters:    database.Collection("counters"),
	}
	if err := s.ensureIndexes(ctx); err != nil {
		return nil, err
	}
	log.WithField("database", dbName).Info("MongoDB store ready")
	return s, nil
}

func (s *MongoStore) ensureIndexes(ctx context.Context) error {
	indexes := map[*mongo.Collection][]mongo.IndexModel{
		s.jobs: {
			{Keys: bson.D{{Key: "job_number", Value: 1}}, Options: options.Index().SetUnique(true)},
			{Keys: bson.D{{Key: "technician_id", Value: 1}, {Key: "scheduled_at", Value: 1}}},
		},
		s.technicians: {
			{Keys: bson.D{{Key: "username", Value: 1}}, Options: options.Index().SetUnique(true)},
		},
		s.checkouts: {
			{Keys: bson.D{{Key: "asset_code", Value: 1}}},
			{Keys: bson.D{{Key: "job_id", Value: 1}}},
		},
		s.usages: {
			{Keys: bson.D{{Key: "job_id", Value: 1}}},
		},
	}
	for coll, specs := range indexes {
		if _, err := coll.Indexes().CreateMany(ctx, specs); err != nil {
			return fmt.Errorf("create indexes on %s: %w", coll.Name(), err)
		}
	}
	return nil
}

// Transact implements Store. fn receives a session context; every operation
// issued through tx with that context joins the transaction.
func (s *MongoStore) Transact(ctx context.Context, fn func(ctx context.Context, tx Store) error) error {
	if s.inTx {
		return fn(ctx, s)
	}
	session, err := s.client.StartSession()
	if err != nil {
		return fmt.Errorf("start session: %w", err)
	}
	defer session.EndSession(ctx)

	tx := *s
	tx.inTx = true
	_, err = session.WithTransaction(ctx, func(sc mongo.SessionContext) (interface{}, error) {
		return nil, fn(sc, &tx)
	})
	return err
}

// Close implements Store.
func (s *MongoStore) Close(ctx context.Context) error {
	if s.inTx {
		return nil
	}
	return s.client.Disconnect(ctx)
}

func translateMongo(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, mongo.ErrNoDocuments):
		return ErrNotFound
	case mongo.IsDuplicateKeyError(err):
		return fmt.Errorf("%w: %v", ErrDuplicate, err)
	default:
		return err
	}
}

func (s *MongoStore) nextSequence(ctx context.Context, name string) (int64, error) {
	var doc struct {
		Seq int64 `bson:"seq"`
	}
	err := s.counters.FindOneAndUpdate(ctx,
		bson.M{"_id": name},
		bson.M{"$inc": bson.M{"seq": 1}},
		options.FindOneAndUpdate().SetUpsert(true).SetReturnDocument(options.After),
	).Decode(&doc)
	if err != nil {
		return 0, fmt.Errorf("next %s id: %w", name, err)
	}
	return doc.Seq, nil
}

// raiseSequence makes sure the counter is at least id, for explicitly numbered inserts.
func (s *MongoStore) raiseSequence(ctx context.Context, name string, id int64) error {
	_, err := s.counters.UpdateOne(ctx,
		bson.M{"_id": name},
		bson.M{"$max": bson.M{"seq": id}},
		options.Update().SetUpsert(true),
	)
	return err
}

func findAll[T any](ctx context.Context, coll *mongo.Collection, filter bson.M, sort bson.D) ([]T, error) {
	cursor, err := coll.Find(ctx, filter, options.Find().SetSort(sort))
	if err != nil {
		return nil, err
	}
	defer cursor.Close(ctx)
	var out []T
	if err := cursor.All(ctx, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func findOne[T any](ctx context.Context, coll *mongo.Collection, filter bson.M) (*T, error) {
	var out T
	if err := coll.FindOne(ctx, filter).Decode(&out); err != nil {
		return nil, translateMongo(err)
	}
	return &out, nil
}

// versionedReplace replaces the document only when its stored version equals
// version. doc must already carry version+1.
func versionedReplace(ctx context.Context, coll *mongo.Collection, id interface{}, version int64, doc interface{}) error {
	res, err := coll.ReplaceOne(ctx, bson.M{"_id": id, "version": version}, doc)
	if err != nil {
		return translateMongo(err)
	}
	if res.MatchedCount > 0 {
		return nil
	}
	n, err := coll.CountDocuments(ctx, bson.M{"_id": id})
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return ErrConflict
}

// InsertJob implements JobCollection.
func (s *MongoStore) InsertJob(ctx context.Context, job *models.Job) error {
	if s.jobs == nil {
		return fmt.Errorf("mongo collection is nil")
	}
	if job.ID == 0 {
		id, err := s.nextSequence(ctx, "jobs")
		if err != nil {
			return err
		}
		job.ID = id
	} else if err := s.raiseSequence(ctx, "jobs", job.ID); err != nil {
		return err
	}
	_, err := s.jobs.InsertOne(ctx, job)
	return translateMongo(err)
}

// FindJobByID implements JobCollection.
func (s *MongoStore) FindJobByID(ctx context.Context, id int64) (*models.Job, error) {
	return findOne[models.Job](ctx, s.jobs, bson.M{"_id": id})
}

// FindJobByNumber implements JobCollection.
func (s *MongoStore) FindJobByNumber(ctx context.Context, number string) (*models.Job, error) {
	return findOne[models.Job](ctx, s.jobs, bson.M{"job_number": number})
}

// FindJobs implements JobCollection.
func (s *MongoStore) FindJobs(ctx context.Context, filter JobFilter) ([]models.Job, error) {
	q := bson.M{}
	if filter.TechnicianID != "" {
		q["technician_id"] = filter.TechnicianID
	}
	scheduled := bson.M{}
	if !filter.ScheduledFrom.IsZero() {
		scheduled["$gte"] = filter.ScheduledFrom
	}
	if !filter.ScheduledTo.IsZero() {
		scheduled["$lt"] = filter.ScheduledTo
	}
	if len(scheduled) > 0 {
		q["scheduled_at"] = scheduled
	}
	if filter.OnlyUnsynced {
		q["needs_sync"] = true
	}
	return findAll[models.Job](ctx, s.jobs, q, bson.D{{Key: "scheduled_at", Value: 1}, {Key: "_id", Value: 1}})
}

// UpdateJob implements JobCollection.
func (s *MongoStore) UpdateJob(ctx context.Context, job *models.Job) error {
	next := job.Clone()
	next.Version = job.Version + 1
	if err := versionedReplace(ctx, s.jobs, job.ID, job.Version, next); err != nil {
		return err
	}
	job.Version = next.Version
	return nil
}

// InsertTechnician implements TechnicianCollection.
func (s *MongoStore) InsertTechnician(ctx context.Context, technician *models.Technician) error {
	_, err := s.technicians.InsertOne(ctx, technician)
	return translateMongo(err)
}

// FindTechnicianByID implements TechnicianCollection.
func (s *MongoStore) FindTechnicianByID(ctx context.Context, id string) (*models.Technician, error) {
	return findOne[models.Technician](ctx, s.technicians, bson.M{"_id": id})
}

// FindTechnicianByUsername implements TechnicianCollection.
func (s *MongoStore) FindTechnicianByUsername(ctx context.Context, username string) (*models.Technician, error) {
	return findOne[models.Technician](ctx, s.technicians, bson.M{"username": username})
}

// UpdateLastLogin implements TechnicianCollection.
func (s *MongoStore) UpdateLastLogin(ctx context.Context, id string, at time.Time) error {
	res, err := s.technicians.UpdateOne(ctx, bson.M{"_id": id}, bson.M{"$set": bson.M{"last_login": at, "updated_at": at}})
	if err != nil {
		return err
	}
	if res.MatchedCount == 0 {
		return ErrNotFound
	}
	return nil
}

// InsertAsset implements AssetCollection.
func (s *MongoStore) InsertAsset(ctx context.Context, asset *models.Asset) error {
	_, err := s.assets.InsertOne(ctx, asset)
	return translateMongo(err)
}

// FindAssetByCode implements AssetCollection.
func (s *MongoStore) FindAssetByCode(ctx context.Context, code string) (*models.Asset, error) {
	return findOne[models.Asset](ctx, s.assets, bson.M{"_id": code})
}

// FindAssets implements AssetCollection.
func (s *MongoStore) FindAssets(ctx context.Context, filter AssetFilter) ([]models.Asset, error) {
	q := bson.M{}
	if filter.Category != "" {
		q["category"] = filter.Category
	}
	if filter.Available != nil {
		q["available"] = *filter.Available
	}
	if filter.Holder != "" {
		q["holder"] = filter.Holder
	}
	return findAll[models.Asset](ctx, s.assets, q, bson.D{{Key: "_id", Value: 1}})
}

// UpdateAsset implements AssetCollection.
func (s *MongoStore) UpdateAsset(ctx context.Context, asset *models.Asset) error {
	next := asset.Clone()
	next.Version = asset.Version + 1
	if err := versionedReplace(ctx, s.assets, asset.Code, asset.Version, next); err != nil {
		return err
	}
	asset.Version = next.Version
	return nil
}

// InsertCheckout implements CheckoutCollection.
func (s *MongoStore) InsertCheckout(ctx context.Context, checkout *models.Checkout) error {
	id, err := s.nextSequence(ctx, "checkouts")
	if err != nil {
		return err
	}
	checkout.ID = id
	_, err = s.checkouts.InsertOne(ctx, checkout)
	return translateMongo(err)
}

// FindCheckoutByID implements CheckoutCollection.
func (s *MongoStore) FindCheckoutByID(ctx context.Context, id int64) (*models.Checkout, error) {
	return findOne[models.Checkout](ctx, s.checkouts, bson.M{"_id": id})
}

// FindCheckouts implements CheckoutCollection.
func (s *MongoStore) FindCheckouts(ctx context.Context, filter CheckoutFilter) ([]models.Checkout, error) {
	q := bson.M{}
	if filter.AssetCode != "" {
		q["asset_code"] = filter.AssetCode
	}
	if filter.Holder != "" {
		q["holder"] = filter.Holder
	}
	if filter.JobID != nil {
		q["job_id"] = *filter.JobID
	}
	if filter.OpenOnly {
		q["returned_at"] = nil
	}
	return findAll[models.Checkout](ctx, s.checkouts, q, bson.D{{Key: "_id", Value: 1}})
}

// CloseCheckout implements CheckoutCollection.
func (s *MongoStore) CloseCheckout(ctx context.Context, id int64, at time.Time, condition models.Condition, notes string) (*models.Checkout, error) {
	var out models.Checkout
	err := s.checkouts.FindOneAndUpdate(ctx,
		bson.M{"_id": id, "returned_at": nil},
		bson.M{"$set": bson.M{"returned_at": at, "condition_in": condition, "return_notes": notes}},
		options.FindOneAndUpdate().SetReturnDocument(options.After),
	).Decode(&out)
	if errors.Is(err, mongo.ErrNoDocuments) {
		n, cerr := s.checkouts.CountDocuments(ctx, bson.M{"_id": id})
		if cerr != nil {
			return nil, cerr
		}
		if n == 0 {
			return nil, ErrNotFound
		}
		return nil, ErrGuardFailed
	}
	if err != nil {
		return nil, err
	}
	return &out, nil
}

// InsertConsumable implements ConsumableCollection.
func (s *MongoStore) InsertConsumable(ctx context.Context, consumable *models.Consumable) error {
	_, err := s.consumables.InsertOne(ctx, consumable)
	return translateMongo(err)
}

// FindConsumableByCode implements ConsumableCollection.
func (s *MongoStore) FindConsumableByCode(ctx context.Context, code string) (*models.Consumable, error) {
	return findOne[models.Consumable](ctx, s.consumables, bson.M{"_id": code})
}

// FindConsumables implements ConsumableCollection.
func (s *MongoStore) FindConsumables(ctx context.Context, filter ConsumableFilter) ([]models.Consumable, error) {
	q := bson.M{}
	if filter.Category != "" {
		q["category"] = filter.Category
	}
	return findAll[models.Consumable](ctx, s.consumables, q, bson.D{{Key: "_id", Value: 1}})
}

// AdjustStock implements ConsumableCollection.
func (s *MongoStore) AdjustStock(ctx context.Context, code string, delta float64, at time.Time) (*models.Consumable, error) {
	var out models.Consumable
	err := s.consumables.FindOneAndUpdate(ctx,
		bson.M{"_id": code, "current_stock": bson.M{"$gte": -delta}},
		bson.M{
			"$inc": bson.M{"current_stock": delta, "version": 1},
			"$set": bson.M{"updated_at": at},
		},
		options.FindOneAndUpdate().SetReturnDocument(options.After),
	).Decode(&out)
	if errors.Is(err, mongo.ErrNoDocuments) {
		n, cerr := s.consumables.CountDocuments(ctx, bson.M{"_id": code})
		if cerr != nil {
			return nil, cerr
		}
		if n == 0 {
			return nil, ErrNotFound
		}
		return nil, ErrGuardFailed
	}
	if err != nil {
		return nil, err
	}
	return &out, nil
}

// InsertUsage implements UsageCollection.
func (s *MongoStore) InsertUsage(ctx context.Context, usage *models.Usage) error {
	id, err := s.nextSequence(ctx, "usages")
	if err != nil {
		return err
	}
	usage.ID = id
	_, err = s.usages.InsertOne(ctx, usage)
	return translateMongo(err)
}

// FindUsages implements UsageCollection.
func (s *MongoStore) FindUsages(ctx context.Context, filter UsageFilter) ([]models.Usage, error) {
	q := bson.M{}
	if filter.JobID != nil {
		q["job_id"] = *filter.JobID
	}
	if filter.ConsumableCode != "" {
		q["consumable_code"] = filter.ConsumableCode
	}
	return findAll[models.Usage](ctx, s.usages, q, bson.D{{Key: "_id", Value: 1}})
}
