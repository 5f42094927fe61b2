package mongo

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/rinta-toyoda/retailer-agent-project/internal/repository"
)

// itemDocument документ коллекции inventory_items
type itemDocument struct {
	SKU               string    `bson:"sku"`
	Quantity          int       `bson:"quantity"`
	ReservedQuantity  int       `bson:"reserved_quantity"`
	LowStockThreshold int       `bson:"low_stock_threshold"`
	CreatedAt         time.Time `bson:"created_at"`
	UpdatedAt         time.Time `bson:"updated_at"`
}

func (d itemDocument) toDomain() repository.InventoryItem {
	return repository.InventoryItem{
		SKU:               d.SKU,
		Quantity:          d.Quantity,
		ReservedQuantity:  d.ReservedQuantity,
		LowStockThreshold: d.LowStockThreshold,
		CreatedAt:         d.CreatedAt,
		UpdatedAt:         d.UpdatedAt,
	}
}

// reservationDocument документ коллекции stock_reservations
type reservationDocument struct {
	ID              string     `bson:"_id"`
	SKU             string     `bson:"sku"`
	Quantity        int        `bson:"quantity"`
	CartID          string     `bson:"cart_id"`
	PaymentIntentID string     `bson:"payment_intent_id,omitempty"`
	Status          string     `bson:"status"`
	CreatedAt       time.Time  `bson:"created_at"`
	ExpiresAt       time.Time  `bson:"expires_at"`
	ResolvedAt      *time.Time `bson:"resolved_at,omitempty"`
}

func (d reservationDocument) toDomain() repository.StockReservation {
	return repository.StockReservation{
		ID:              d.ID,
		SKU:             d.SKU,
		Quantity:        d.Quantity,
		CartID:          d.CartID,
		PaymentIntentID: d.PaymentIntentID,
		Status:          repository.ReservationStatus(d.Status),
		CreatedAt:       d.CreatedAt,
		ExpiresAt:       d.ExpiresAt,
		ResolvedAt:      d.ResolvedAt,
	}
}

func fromDomain(r repository.StockReservation) reservationDocument {
	status := r.Status
	if status == "" {
		status = repository.ReservationReserved
	}
	return reservationDocument{
		ID:              r.ID,
		SKU:             r.SKU,
		Quantity:        r.Quantity,
		CartID:          r.CartID,
		PaymentIntentID: r.PaymentIntentID,
		Status:          string(status),
		CreatedAt:       r.CreatedAt,
		ExpiresAt:       r.ExpiresAt,
		ResolvedAt:      r.ResolvedAt,
	}
}

// Repository ledger поверх MongoDB без транзакций.
// Каждое изменение остатка это один условный FindOneAndUpdate (compare-and-swap по документу sku).
type Repository struct {
	items        *mongo.Collection
	reservations *mongo.Collection
	now          func() time.Time
}

var (
	_ repository.InventoryRepository   = (*Repository)(nil)
	_ repository.ReservationRepository = (*Repository)(nil)
)

// NewRepository создаёт MongoDB ledger
func NewRepository(client *mongo.Client, dbName string) *Repository {
	db := client.Database(dbName)
	return &Repository{
		items:        db.Collection("inventory_items"),
		reservations: db.Collection("stock_reservations"),
		now:          time.Now,
	}
}

// EnsureIndexes создаёт уникальный индекс по sku и индексы для поиска резервов
func (r *Repository) EnsureIndexes(ctx context.Context) error {
	if _, err := r.items.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys:    bson.D{{Key: "sku", Value: 1}},
		Options: options.Index().SetUnique(true),
	}); err != nil {
		return fmt.Errorf("inventory_items index: %w", err)
	}
	_, err := r.reservations.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{Keys: bson.D{{Key: "cart_id", Value: 1}, {Key: "status", Value: 1}}},
		{Keys: bson.D{{Key: "status", Value: 1}, {Key: "expires_at", Value: 1}}},
	})
	if err != nil {
		return fmt.Errorf("stock_reservations indexes: %w", err)
	}
	return nil
}

func (r *Repository) CreateItem(ctx context.Context, item repository.InventoryItem) error {
	if item.Quantity < 0 || !item.Consistent() {
		return repository.ErrInvalidAdjustment
	}
	now := r.now()
	_, err := r.items.InsertOne(ctx, itemDocument{
		SKU:               item.SKU,
		Quantity:          item.Quantity,
		ReservedQuantity:  item.ReservedQuantity,
		LowStockThreshold: item.LowStockThreshold,
		CreatedAt:         now,
		UpdatedAt:         now,
	})
	if mongo.IsDuplicateKeyError(err) {
		return repository.ErrAlreadyExists
	}
	return err
}

func (r *Repository) GetItem(ctx context.Context, sku string) (repository.InventoryItem, error) {
	var doc itemDocument
	if err := r.items.FindOne(ctx, bson.M{"sku": sku}).Decode(&doc); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return repository.InventoryItem{}, repository.ErrNotFound
		}
		return repository.InventoryItem{}, err
	}
	return doc.toDomain(), nil
}

func (r *Repository) ListItems(ctx context.Context) ([]repository.InventoryItem, error) {
	cur, err := r.items.Find(ctx, bson.M{}, options.Find().SetSort(bson.D{{Key: "sku", Value: 1}}))
	if err != nil {
		return nil, err
	}
	var docs []itemDocument
	if err := cur.All(ctx, &docs); err != nil {
		return nil, err
	}
	out := make([]repository.InventoryItem, 0, len(docs))
	for _, d := range docs {
		out = append(out, d.toDomain())
	}
	return out, nil
}

// casItem применяет update к документу sku, только если filter выполняется
func (r *Repository) casItem(ctx context.Context, sku string, cond bson.M, update bson.M) (repository.InventoryItem, bool, error) {
	filter := bson.M{"sku": sku}
	for k, v := range cond {
		filter[k] = v
	}
	var doc itemDocument
	err := r.items.FindOneAndUpdate(ctx, filter, update,
		options.FindOneAndUpdate().SetReturnDocument(options.After)).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return repository.InventoryItem{}, false, nil
	}
	if err != nil {
		return repository.InventoryItem{}, false, err
	}
	return doc.toDomain(), true, nil
}

// Reserve увеличивает reserved_quantity, если quantity - reserved_quantity >= qty, затем пишет резерв.
// Если запись резерва не удалась, увеличение откатывается.
func (r *Repository) Reserve(ctx context.Context, res repository.StockReservation) (repository.InventoryItem, error) {
	item, ok, err := r.casItem(ctx, res.SKU,
		bson.M{"$expr": bson.M{"$gte": bson.A{bson.M{"$subtract": bson.A{"$quantity", "$reserved_quantity"}}, res.Quantity}}},
		bson.M{"$inc": bson.M{"reserved_quantity": res.Quantity}, "$set": bson.M{"updated_at": r.now()}})
	if err != nil {
		return repository.InventoryItem{}, err
	}
	if !ok {
		current, err := r.GetItem(ctx, res.SKU)
		if err != nil {
			return repository.InventoryItem{}, err
		}
		return repository.InventoryItem{}, &repository.InsufficientStockError{
			SKU:       res.SKU,
			Requested: res.Quantity,
			Available: current.Available(),
		}
	}

	res.Status = repository.ReservationReserved
	res.ResolvedAt = nil
	if err := r.Create(ctx, res); err != nil {
		_, _, undoErr := r.casItem(ctx, res.SKU,
			bson.M{"reserved_quantity": bson.M{"$gte": res.Quantity}},
			bson.M{"$inc": bson.M{"reserved_quantity": -res.Quantity}, "$set": bson.M{"updated_at": r.now()}})
		return repository.InventoryItem{}, errors.Join(err, undoErr)
	}
	return item, nil
}

// ResolveReservations сначала захватывает резервы (RESERVED -> outcome) по возрастанию id.
// Если какой-то уже терминальный, захваченные возвращаются в RESERVED и вызов завершается ErrAlreadyResolved.
// После захвата остатки меняются условным $inc по каждому резерву; при сбое $inc
// откатываются, а резервы снова становятся RESERVED.
func (r *Repository) ResolveReservations(ctx context.Context, ids []string, outcome repository.ReservationStatus, at time.Time) ([]repository.Resolution, error) {
	if !outcome.IsTerminal() {
		return nil, repository.ErrInvalidOutcome
	}
	ids = uniqueSorted(ids)

	claimed := make([]repository.StockReservation, 0, len(ids))
	for _, id := range ids {
		res, err := r.Resolve(ctx, id, outcome, at)
		if err != nil {
			if undoErr := r.unclaim(ctx, claimed, outcome); undoErr != nil {
				err = errors.Join(err, undoErr)
			}
			return nil, err
		}
		claimed = append(claimed, res)
	}

	out := make([]repository.Resolution, 0, len(claimed))
	for i, res := range claimed {
		cond := bson.M{"reserved_quantity": bson.M{"$gte": res.Quantity}}
		inc := bson.M{"reserved_quantity": -res.Quantity}
		if outcome == repository.ReservationCommitted {
			cond["quantity"] = bson.M{"$gte": res.Quantity}
			inc["quantity"] = -res.Quantity
		}
		item, ok, err := r.casItem(ctx, res.SKU, cond, bson.M{"$inc": inc, "$set": bson.M{"updated_at": r.now()}})
		if err == nil && !ok {
			err = fmt.Errorf("%w: sku %s cannot absorb reservation %s", repository.ErrLedgerInvariant, res.SKU, res.ID)
		}
		if err != nil {
			// пачка применяется целиком или никак: откатываем уже сделанные $inc и захват
			undoErr := errors.Join(r.restoreItems(ctx, claimed[:i], outcome), r.unclaim(ctx, claimed, outcome))
			return nil, errors.Join(err, undoErr)
		}
		out = append(out, repository.Resolution{Reservation: res, Item: item})
	}
	return out, nil
}

// restoreItems возвращает остатки, уже списанные по резервам applied
func (r *Repository) restoreItems(ctx context.Context, applied []repository.StockReservation, outcome repository.ReservationStatus) error {
	var errs []error
	for _, res := range applied {
		inc := bson.M{"reserved_quantity": res.Quantity}
		if outcome == repository.ReservationCommitted {
			inc["quantity"] = res.Quantity
		}
		_, err := r.items.UpdateOne(ctx, bson.M{"sku": res.SKU},
			bson.M{"$inc": inc, "$set": bson.M{"updated_at": r.now()}})
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

func (r *Repository) unclaim(ctx context.Context, claimed []repository.StockReservation, outcome repository.ReservationStatus) error {
	var errs []error
	for _, res := range claimed {
		_, err := r.reservations.UpdateOne(ctx,
			bson.M{"_id": res.ID, "status": string(outcome)},
			bson.M{"$set": bson.M{"status": string(repository.ReservationReserved)}, "$unset": bson.M{"resolved_at": ""}})
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

func (r *Repository) Adjust(ctx context.Context, sku string, delta int) (repository.InventoryItem, error) {
	item, ok, err := r.casItem(ctx, sku,
		bson.M{"$expr": bson.M{"$gte": bson.A{bson.M{"$add": bson.A{"$quantity", delta}}, "$reserved_quantity"}}},
		bson.M{"$inc": bson.M{"quantity": delta}, "$set": bson.M{"updated_at": r.now()}})
	if err != nil {
		return repository.InventoryItem{}, err
	}
	if !ok {
		return repository.InventoryItem{}, r.adjustFailure(ctx, sku)
	}
	return item, nil
}

func (r *Repository) SetQuantity(ctx context.Context, sku string, quantity int) (repository.InventoryItem, error) {
	if quantity < 0 {
		return repository.InventoryItem{}, repository.ErrInvalidAdjustment
	}
	item, ok, err := r.casItem(ctx, sku,
		bson.M{"reserved_quantity": bson.M{"$lte": quantity}},
		bson.M{"$set": bson.M{"quantity": quantity, "updated_at": r.now()}})
	if err != nil {
		return repository.InventoryItem{}, err
	}
	if !ok {
		return repository.InventoryItem{}, r.adjustFailure(ctx, sku)
	}
	return item, nil
}

func (r *Repository) adjustFailure(ctx context.Context, sku string) error {
	if _, err := r.GetItem(ctx, sku); err != nil {
		return err
	}
	return repository.ErrInvalidAdjustment
}

func (r *Repository) Create(ctx context.Context, res repository.StockReservation) error {
	_, err := r.reservations.InsertOne(ctx, fromDomain(res))
	if mongo.IsDuplicateKeyError(err) {
		return repository.ErrAlreadyExists
	}
	return err
}

func (r *Repository) Find(ctx context.Context, id string) (repository.StockReservation, error) {
	var doc reservationDocument
	if err := r.reservations.FindOne(ctx, bson.M{"_id": id}).Decode(&doc); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return repository.StockReservation{}, repository.ErrReservationNotFound
		}
		return repository.StockReservation{}, err
	}
	return doc.toDomain(), nil
}

func (r *Repository) findMany(ctx context.Context, filter bson.M, opts *options.FindOptions) ([]repository.StockReservation, error) {
	cur, err := r.reservations.Find(ctx, filter, opts)
	if err != nil {
		return nil, err
	}
	var docs []reservationDocument
	if err := cur.All(ctx, &docs); err != nil {
		return nil, err
	}
	out := make([]repository.StockReservation, 0, len(docs))
	for _, d := range docs {
		out = append(out, d.toDomain())
	}
	return out, nil
}

func (r *Repository) FindActiveByCart(ctx context.Context, cartID string) ([]repository.StockReservation, error) {
	return r.findMany(ctx,
		bson.M{"cart_id": cartID, "status": string(repository.ReservationReserved)},
		options.Find().SetSort(bson.D{{Key: "sku", Value: 1}, {Key: "_id", Value: 1}}))
}

func (r *Repository) FindExpired(ctx context.Context, now time.Time, limit int) ([]repository.StockReservation, error) {
	return r.findMany(ctx,
		bson.M{"status": string(repository.ReservationReserved), "expires_at": bson.M{"$lt": now}},
		options.Find().SetSort(bson.D{{Key: "expires_at", Value: 1}}).SetLimit(int64(limit)))
}

// Resolve переводит RESERVED резерв в outcome без изменения остатков
func (r *Repository) Resolve(ctx context.Context, id string, outcome repository.ReservationStatus, at time.Time) (repository.StockReservation, error) {
	if !outcome.IsTerminal() {
		return repository.StockReservation{}, repository.ErrInvalidOutcome
	}
	var doc reservationDocument
	err := r.reservations.FindOneAndUpdate(ctx,
		bson.M{"_id": id, "status": string(repository.ReservationReserved)},
		bson.M{"$set": bson.M{"status": string(outcome), "resolved_at": at}},
		options.FindOneAndUpdate().SetReturnDocument(options.After)).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		existing, findErr := r.Find(ctx, id)
		if findErr != nil {
			return repository.StockReservation{}, findErr
		}
		return existing, repository.ErrAlreadyResolved
	}
	if err != nil {
		return repository.StockReservation{}, err
	}
	return doc.toDomain(), nil
}

func (r *Repository) AttachPaymentIntent(ctx context.Context, cartID, paymentIntentID string) error {
	_, err := r.reservations.UpdateMany(ctx,
		bson.M{"cart_id": cartID, "status": string(repository.ReservationReserved)},
		bson.M{"$set": bson.M{"payment_intent_id": paymentIntentID}})
	return err
}

func uniqueSorted(ids []string) []string {
	seen := make(map[string]struct{}, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if _, ok := seen[id]; !ok {
			seen[id] = struct{}{}
			out = append(out, id)
		}
	}
	sort.Strings(out)
	return out
}
