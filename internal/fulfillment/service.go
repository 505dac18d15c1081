// Package fulfillment splits paid orders into one carrier shipment per seller.
package fulfillment

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/multierr"
	"golang.org/x/sync/errgroup"
	"gorm.io/gorm"

	"github.com/angelmondragon/marketplace-checkout/internal/carrier"
	"github.com/angelmondragon/marketplace-checkout/internal/dimweight"
	"github.com/angelmondragon/marketplace-checkout/internal/orders"
	"github.com/angelmondragon/marketplace-checkout/internal/sellers"
	"github.com/angelmondragon/marketplace-checkout/pkg/config"
	"github.com/angelmondragon/marketplace-checkout/pkg/db"
	"github.com/angelmondragon/marketplace-checkout/pkg/db/models"
	"github.com/angelmondragon/marketplace-checkout/pkg/enums"
	pkgerrors "github.com/angelmondragon/marketplace-checkout/pkg/errors"
	"github.com/angelmondragon/marketplace-checkout/pkg/logger"
	"github.com/angelmondragon/marketplace-checkout/pkg/outbox"
	"github.com/angelmondragon/marketplace-checkout/pkg/outbox/payloads"
)

const (
	OutcomeCreated  = "created"
	OutcomeExisting = "existing"
	OutcomeFailed   = "failed"

	stepSellerLookup = "seller_lookup"
	stepPersist      = "persist"
)

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

type productCatalog interface {
	FindByIDs(ctx context.Context, ids []uuid.UUID) (map[uuid.UUID]models.Product, error)
}

// Shipper is the carrier surface used per partition.
type Shipper interface {
	EnsurePickupLocation(ctx context.Context, loc carrier.PickupLocation) error
	CreateOrder(ctx context.Context, req carrier.OrderRequest) (*carrier.CreatedOrder, error)
	AssignAWB(ctx context.Context, shipmentID int64) (*carrier.Assignment, error)
	GenerateInvoice(ctx context.Context, carrierOrderID int64) (string, error)
}

type partitionRecorder interface {
	IncPartition(outcome string)
}

// FulfillInput selects an order and optionally a single seller partition.
type FulfillInput struct {
	OrderID   uuid.UUID
	SellerKey string
}

// ManualInput records a shipment the seller booked outside the carrier
// integration. SellerEmail may be sellers.AdminKey for platform stock.
type ManualInput struct {
	OrderID        uuid.UUID
	SellerEmail    string
	TrackingNumber string
	Courier        string
}

// PartitionFailure explains why one seller partition was not shipped.
type PartitionFailure struct {
	SellerKey string         `json:"seller_key"`
	Step      string         `json:"step"`
	Reason    string         `json:"reason"`
	Code      pkgerrors.Code `json:"code"`
	// Status is the carrier's HTTP status, zero when the carrier was not reached.
	Status int `json:"status,omitempty"`
}

// Permanent reports whether a retry would fail the same way until the seller
// data is fixed. Carrier 4xx counts, except auth expiry and throttling.
func (f PartitionFailure) Permanent() bool {
	switch f.Code {
	case pkgerrors.CodeNotFound, pkgerrors.CodeValidation:
		return true
	case pkgerrors.CodeDependency:
		switch f.Status {
		case http.StatusUnauthorized, http.StatusRequestTimeout, http.StatusTooManyRequests:
			return false
		}
		return f.Status >= 400 && f.Status < 500
	}
	return false
}

type FulfillResult struct {
	OrderID     uuid.UUID          `json:"order_id"`
	OrderStatus enums.OrderStatus  `json:"order_status"`
	Created     []models.Shipment  `json:"created"`
	Existing    []models.Shipment  `json:"existing"`
	Failed      []PartitionFailure `json:"failed"`
}

// Service dispatches per-seller shipments for paid orders.
type Service interface {
	Fulfill(ctx context.Context, in FulfillInput) (*FulfillResult, error)
	ManualFulfill(ctx context.Context, in ManualInput) (*FulfillResult, error)
	ListShipments(ctx context.Context, orderID uuid.UUID) ([]models.Shipment, error)
}

type service struct {
	repo    Repository
	orders  orders.Repository
	tx      txRunner
	catalog productCatalog
	sellers sellers.Repository
	carrier Shipper
	outbox  outbox.Emitter
	cfg     config.FulfillmentConfig
	logg    *logger.Logger
	metrics partitionRecorder
}

// NewService wires the splitter. metrics may be nil.
func NewService(
	repo Repository,
	orderRepo orders.Repository,
	tx txRunner,
	catalog productCatalog,
	sellerRepo sellers.Repository,
	shipper Shipper,
	emitter outbox.Emitter,
	cfg config.FulfillmentConfig,
	logg *logger.Logger,
	metrics partitionRecorder,
) (Service, error) {
	if repo == nil {
		return nil, fmt.Errorf("shipment repository required")
	}
	if orderRepo == nil {
		return nil, fmt.Errorf("order repository required")
	}
	if tx == nil {
		return nil, fmt.Errorf("transaction runner required")
	}
	if catalog == nil {
		return nil, fmt.Errorf("product catalog required")
	}
	if sellerRepo == nil {
		return nil, fmt.Errorf("seller repository required")
	}
	if shipper == nil {
		return nil, fmt.Errorf("carrier client required")
	}
	if emitter == nil {
		return nil, fmt.Errorf("outbox emitter required")
	}
	if logg == nil {
		return nil, fmt.Errorf("logger required")
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 1
	}
	if strings.TrimSpace(cfg.PlatformPickupLocation) == "" {
		return nil, fmt.Errorf("platform pickup location required")
	}
	return &service{
		repo:    repo,
		orders:  orderRepo,
		tx:      tx,
		catalog: catalog,
		sellers: sellerRepo,
		carrier: shipper,
		outbox:  emitter,
		cfg:     cfg,
		logg:    logg,
		metrics: metrics,
	}, nil
}

type taskOutcome struct {
	shipment *models.Shipment
	failure  *PartitionFailure
}

func (s *service) Fulfill(ctx context.Context, in FulfillInput) (*FulfillResult, error) {
	ctx = s.logg.WithOrderID(ctx, in.OrderID.String())
	order, err := s.loadShippable(ctx, in.OrderID)
	if err != nil {
		return nil, err
	}
	products, err := s.loadProducts(ctx, order.Items)
	if err != nil {
		return nil, err
	}

	groups := Partition(order.Items, products)
	if key := normalizeSellerKey(in.SellerKey); key != "" {
		groups = filterGroups(groups, key)
	}

	existing, err := s.repo.ListByOrder(ctx, order.ID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "failed to load shipments")
	}
	shipped := make(map[string]models.Shipment, len(existing))
	for _, sh := range existing {
		shipped[sh.SellerKey] = sh
	}

	result := &FulfillResult{OrderID: order.ID, OrderStatus: order.Status}
	var pending []Group
	for _, g := range groups {
		if sh, ok := shipped[g.SellerKey]; ok {
			result.Existing = append(result.Existing, sh)
			s.recordPartition(OutcomeExisting)
			continue
		}
		pending = append(pending, g)
	}

	outcomes := make([]taskOutcome, len(pending))
	var group errgroup.Group
	group.SetLimit(s.cfg.Concurrency)
	for i, g := range pending {
		group.Go(func() error {
			outcomes[i] = s.dispatch(ctx, order, g, products)
			return nil
		})
	}
	_ = group.Wait()

	var failures error
	for _, out := range outcomes {
		if out.failure != nil {
			result.Failed = append(result.Failed, *out.failure)
			failures = multierr.Append(failures, fmt.Errorf("%s: %s: %s", out.failure.SellerKey, out.failure.Step, out.failure.Reason))
			s.recordPartition(OutcomeFailed)
			continue
		}
		result.Created = append(result.Created, *out.shipment)
		s.recordPartition(OutcomeCreated)
	}

	if len(result.Created) > 0 && order.Status == enums.OrderStatusPaid {
		moved, err := s.orders.TransitionStatus(ctx, order.ID, enums.OrderStatusPaid, enums.OrderStatusShipped, nil)
		if err != nil {
			s.logg.Error(ctx, "failed to mark order shipped", err)
		}
		if moved {
			result.OrderStatus = enums.OrderStatusShipped
		}
	}

	summary := s.logg.WithFields(ctx, map[string]any{
		"created":  len(result.Created),
		"existing": len(result.Existing),
		"failed":   len(result.Failed),
	})
	if failures != nil {
		s.logg.Error(summary, "fulfillment finished with failed partitions", failures)
	} else {
		s.logg.Info(summary, "fulfillment finished")
	}
	return result, nil
}

// dispatch ships one partition. Failures are reported, never returned, so a
// failing seller cannot cancel its siblings.
func (s *service) dispatch(ctx context.Context, order *models.Order, g Group, products map[uuid.UUID]models.Product) taskOutcome {
	ctx = s.logg.WithSellerKey(ctx, g.SellerKey)
	fail := func(step string, err error) taskOutcome {
		if carrierStep := carrier.StepOf(err); carrierStep != "" {
			step = carrierStep
		}
		s.logg.Error(s.logg.WithField(ctx, "step", step), "partition fulfillment failed", err)
		return taskOutcome{failure: &PartitionFailure{
			SellerKey: g.SellerKey,
			Step:      step,
			Reason:    reasonOf(err),
			Code:      pkgerrors.CodeOf(err),
			Status:    carrier.StatusOf(err),
		}}
	}

	pickup, err := s.pickupLocation(ctx, g.SellerKey)
	if err != nil {
		return fail(carrier.StepPickupLocation, err)
	}

	parcel := s.parcelFor(g, products)
	created, err := s.carrier.CreateOrder(ctx, s.carrierOrder(order, g, pickup, parcel))
	if err != nil {
		return fail(carrier.StepCreateOrder, err)
	}
	assignment, err := s.carrier.AssignAWB(ctx, created.ShipmentID)
	if err != nil {
		return fail(carrier.StepAssignAWB, err)
	}

	var invoiceURL *string
	if url, err := s.carrier.GenerateInvoice(ctx, created.OrderID); err != nil {
		s.logg.Warn(s.logg.WithField(ctx, "error", err.Error()), "invoice generation failed")
	} else {
		invoiceURL = &url
	}

	shipment := &models.Shipment{
		OrderID:            order.ID,
		SellerKey:          g.SellerKey,
		ItemIDs:            g.ItemIDs(),
		PickupLocation:     &pickup,
		CarrierOrderID:     strPtr(fmt.Sprintf("%d", created.OrderID)),
		CarrierShipmentID:  strPtr(fmt.Sprintf("%d", created.ShipmentID)),
		TrackingNumber:     strPtr(assignment.AWBCode),
		CourierName:        strPtr(assignment.CourierName),
		InvoiceURL:         invoiceURL,
		ChargeableWeightKg: parcel.weightKg,
		LengthCm:           parcel.lengthCm,
		BreadthCm:          parcel.breadthCm,
		HeightCm:           parcel.heightCm,
		Status:             enums.ShipmentStatusAWBAssigned,
	}
	err = s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		if err := s.repo.WithTx(tx).CreateShipment(ctx, shipment); err != nil {
			return err
		}
		return s.emitShipment(ctx, tx, shipment)
	})
	if err != nil {
		if db.IsUniqueViolation(err, UniqueShipmentConstraint) {
			err = errors.New("shipment already recorded by a concurrent request")
		}
		return fail(stepPersist, err)
	}
	s.logg.Info(s.logg.WithFields(ctx, map[string]any{
		"awb":     assignment.AWBCode,
		"courier": assignment.CourierName,
	}), "partition shipped")
	return taskOutcome{shipment: shipment}
}

// pickupLocation returns the carrier location name for sellerKey,
// provisioning it on first use.
func (s *service) pickupLocation(ctx context.Context, sellerKey string) (string, error) {
	if sellerKey == sellers.AdminKey {
		return s.cfg.PlatformPickupLocation, nil
	}
	known, err := s.repo.FindPickupLocation(ctx, sellerKey)
	if err != nil {
		return "", err
	}
	if known != nil {
		return known.LocationName, nil
	}

	seller, err := s.sellers.FindByEmail(ctx, sellerKey)
	if err != nil {
		return "", err
	}
	if seller == nil {
		return "", pkgerrors.New(pkgerrors.CodeNotFound, "seller profile not found").
			WithDetails(map[string]any{"step": stepSellerLookup})
	}

	name := PickupLocationName(sellerKey)
	contact := seller.Name
	if contact == "" {
		contact = seller.Email
	}
	err = s.carrier.EnsurePickupLocation(ctx, carrier.PickupLocation{
		Name:        name,
		ContactName: contact,
		Email:       seller.Email,
		Phone:       seller.Phone,
		Address:     seller.Address,
		City:        seller.City,
		State:       seller.State,
		Country:     defaultCountry(seller.Country),
		Pincode:     seller.Pincode,
	})
	if err != nil {
		return "", err
	}
	if err := s.repo.SavePickupLocation(ctx, &models.PickupLocation{SellerKey: sellerKey, LocationName: name}); err != nil {
		s.logg.Warn(s.logg.WithField(ctx, "error", err.Error()), "failed to remember pickup location")
	}
	return name, nil
}

type parcel struct {
	weightKg  float64
	lengthCm  float64
	breadthCm float64
	heightCm  float64
}

// parcelFor aggregates the chargeable weight and bounding box of a partition,
// raised to the configured carrier minimums.
func (s *service) parcelFor(g Group, products map[uuid.UUID]models.Product) parcel {
	lines := make([]dimweight.LineWeight, 0, len(g.Items))
	for _, item := range g.Items {
		p, ok := products[item.ProductID]
		if !ok {
			continue
		}
		lines = append(lines, dimweight.Line(dimweight.FromProduct(p), item.Quantity))
	}
	weight := dimweight.FloorWeight(dimweight.Chargeable(lines...), decimal.NewFromFloat(s.cfg.MinWeightKg))
	box := dimweight.BoundingBox(lines...).WithFloor(dimweight.Box{
		LengthCm:  decimal.NewFromFloat(s.cfg.MinLengthCm),
		BreadthCm: decimal.NewFromFloat(s.cfg.MinBreadthCm),
		HeightCm:  decimal.NewFromFloat(s.cfg.MinHeightCm),
	})
	return parcel{
		weightKg:  weight.Round(3).InexactFloat64(),
		lengthCm:  box.LengthCm.Round(2).InexactFloat64(),
		breadthCm: box.BreadthCm.Round(2).InexactFloat64(),
		heightCm:  box.HeightCm.Round(2).InexactFloat64(),
	}
}

func (s *service) carrierOrder(order *models.Order, g Group, pickup string, p parcel) carrier.OrderRequest {
	addr := order.ShippingAddress
	lines := make([]carrier.OrderLine, 0, len(g.Items))
	subtotal := decimal.Zero
	for _, item := range g.Items {
		lines = append(lines, carrier.OrderLine{
			Name:         item.Name,
			SKU:          item.ProductID.String(),
			Units:        item.Quantity,
			SellingPrice: item.UnitPrice,
			TaxPercent:   item.GSTPercent,
		})
		subtotal = subtotal.Add(item.LineTotal)
	}
	req := carrier.OrderRequest{
		OrderID:           order.OrderNumber + "-" + PickupLocationName(g.SellerKey)[len("seller-"):],
		OrderDate:         order.CreatedAt.UTC().Format("2006-01-02 15:04"),
		PickupLocation:    pickup,
		CustomerName:      addr.Name,
		Address:           addr.Line1,
		City:              addr.City,
		Pincode:           addr.PostalCode,
		State:             addr.State,
		Country:           defaultCountry(order.Country),
		Email:             order.BuyerEmail,
		Phone:             addr.Phone,
		ShippingIsBilling: true,
		Items:             lines,
		PaymentMethod:     "Prepaid",
		SubTotal:          subtotal,
		LengthCm:          p.lengthCm,
		BreadthCm:         p.breadthCm,
		HeightCm:          p.heightCm,
		WeightKg:          p.weightKg,
	}
	if addr.Line2 != nil {
		req.Address2 = *addr.Line2
	}
	return req
}

func (s *service) ManualFulfill(ctx context.Context, in ManualInput) (*FulfillResult, error) {
	key := normalizeSellerKey(in.SellerEmail)
	tracking := strings.TrimSpace(in.TrackingNumber)
	courier := strings.TrimSpace(in.Courier)
	var missing []string
	if key == "" {
		missing = append(missing, "seller_email")
	}
	if tracking == "" {
		missing = append(missing, "tracking_number")
	}
	if courier == "" {
		missing = append(missing, "courier")
	}
	if len(missing) > 0 {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "manual fulfillment requires seller, tracking number and courier").
			WithDetails(map[string]any{"missing": missing})
	}

	ctx = s.logg.WithSellerKey(s.logg.WithOrderID(ctx, in.OrderID.String()), key)
	order, err := s.loadShippable(ctx, in.OrderID)
	if err != nil {
		return nil, err
	}
	products, err := s.loadProducts(ctx, order.Items)
	if err != nil {
		return nil, err
	}
	owned := filterGroups(Partition(order.Items, products), key)
	if len(owned) == 0 {
		return nil, pkgerrors.New(pkgerrors.CodeForbidden, "no items in this order belong to the requesting seller")
	}

	shipment := &models.Shipment{
		OrderID:        order.ID,
		SellerKey:      key,
		ItemIDs:        owned[0].ItemIDs(),
		TrackingNumber: &tracking,
		CourierName:    &courier,
		Status:         enums.ShipmentStatusManual,
		Manual:         true,
	}
	status := order.Status
	err = s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		if err := repo.UpsertManual(ctx, shipment); err != nil {
			return err
		}
		stored, err := repo.FindByOrderAndSeller(ctx, order.ID, key)
		if err != nil {
			return err
		}
		if stored != nil {
			shipment = stored
		}
		if status == enums.OrderStatusPaid {
			moved, err := s.orders.WithTx(tx).TransitionStatus(ctx, order.ID, enums.OrderStatusPaid, enums.OrderStatusShipped, nil)
			if err != nil {
				return err
			}
			if moved {
				status = enums.OrderStatusShipped
			}
		}
		return s.emitShipment(ctx, tx, shipment)
	})
	if err != nil {
		s.logg.Error(ctx, "manual fulfillment failed", err)
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "failed to record manual shipment")
	}
	s.recordPartition(OutcomeCreated)
	s.logg.Info(s.logg.WithField(ctx, "courier", courier), "manual shipment recorded")
	return &FulfillResult{OrderID: order.ID, OrderStatus: status, Created: []models.Shipment{*shipment}}, nil
}

func (s *service) ListShipments(ctx context.Context, orderID uuid.UUID) ([]models.Shipment, error) {
	rows, err := s.repo.ListByOrder(ctx, orderID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "failed to list shipments")
	}
	return rows, nil
}

func (s *service) loadShippable(ctx context.Context, orderID uuid.UUID) (*models.Order, error) {
	if orderID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "order id required")
	}
	order, err := s.orders.FindByID(ctx, orderID)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, pkgerrors.New(pkgerrors.CodeNotFound, "order not found")
	}
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "failed to load order")
	}
	if order.Status != enums.OrderStatusPaid && order.Status != enums.OrderStatusShipped {
		return nil, pkgerrors.New(pkgerrors.CodeStateConflict, "order is not ready for fulfillment").
			WithDetails(map[string]any{"status": order.Status})
	}
	return order, nil
}

func (s *service) loadProducts(ctx context.Context, items []models.OrderItem) (map[uuid.UUID]models.Product, error) {
	ids := make([]uuid.UUID, 0, len(items))
	for _, item := range items {
		ids = append(ids, item.ProductID)
	}
	products, err := s.catalog.FindByIDs(ctx, ids)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "failed to load products")
	}
	return products, nil
}

func (s *service) emitShipment(ctx context.Context, tx *gorm.DB, shipment *models.Shipment) error {
	return s.outbox.Emit(ctx, tx, outbox.DomainEvent{
		EventType:     enums.EventShipmentCreated,
		AggregateType: enums.AggregateShipment,
		AggregateID:   shipment.ID,
		Data: payloads.ShipmentCreatedEvent{
			ShipmentID:     shipment.ID,
			OrderID:        shipment.OrderID,
			SellerKey:      shipment.SellerKey,
			TrackingNumber: shipment.TrackingNumber,
			CourierName:    shipment.CourierName,
			Manual:         shipment.Manual,
		},
		OccurredAt: time.Now().UTC(),
	})
}

func (s *service) recordPartition(outcome string) {
	if s.metrics != nil {
		s.metrics.IncPartition(outcome)
	}
}

func filterGroups(groups []Group, key string) []Group {
	for _, g := range groups {
		if g.SellerKey == key {
			return []Group{g}
		}
	}
	return nil
}

func normalizeSellerKey(raw string) string {
	raw = strings.TrimSpace(raw)
	if strings.EqualFold(raw, sellers.AdminKey) {
		return sellers.AdminKey
	}
	return sellers.NormalizeEmail(raw)
}

func reasonOf(err error) string {
	if typed := pkgerrors.As(err); typed != nil {
		return typed.Message()
	}
	return err.Error()
}

func defaultCountry(country string) string {
	if strings.TrimSpace(country) == "" {
		return "India"
	}
	return country
}

func strPtr(s string) *string { return &s }
