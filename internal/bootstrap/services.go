package bootstrap

import (
	"context"
	"fmt"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"go.uber.org/zap"

	"github.com/hackgods/care-fulfillment/internal/appointment"
	"github.com/hackgods/care-fulfillment/internal/notify"
	"github.com/hackgods/care-fulfillment/internal/order"
	"github.com/hackgods/care-fulfillment/internal/payment"
	"github.com/hackgods/care-fulfillment/internal/prescription"
	redisclient "github.com/hackgods/care-fulfillment/internal/redis"
	"github.com/hackgods/care-fulfillment/internal/slot"
)

// Services is the wired domain layer.
type Services struct {
	Appointments  *appointment.Service
	Orders        *order.Service
	Prescriptions *prescription.Gate
	Outbox        notify.OutboxStore

	AppointmentRepo appointment.Repository
	OrderRepo       order.Repository
}

// BuildServices wires repositories, the slot registry, payments, the
// prescription gate and the notification outbox according to the config.
func (rt *Runtime) BuildServices(ctx context.Context) (*Services, error) {
	cfg := rt.Config
	s := &Services{}

	var rxRepo prescription.Repository
	switch cfg.StorageBackend {
	case "postgres":
		s.AppointmentRepo = appointment.NewPgRepository(rt.Pool)
		s.OrderRepo = order.NewPgRepository(rt.Pool)
		rxRepo = prescription.NewPgRepository(rt.Pool)
		s.Outbox = notify.NewPgOutbox(rt.Pool)
	default:
		apptRepo := appointment.NewMemoryRepository()
		orderRepo := order.NewMemoryRepository()
		SeedMemoryCatalog(apptRepo, orderRepo, 0)
		s.AppointmentRepo = apptRepo
		s.OrderRepo = orderRepo
		rxRepo = prescription.NewMemoryRepository()
		s.Outbox = notify.NewMemoryOutbox()
		rt.Logger.Warn("using in-memory storage; data is lost on restart")
	}

	var slots slot.Registry
	switch cfg.SlotRegistry {
	case "redis":
		slots = redisclient.NewSlotRegistry(rt.Redis, slot.DefaultGrid(), cfg.ClinicLocation)
	default:
		slots = slot.NewMemoryRegistry(slot.DefaultGrid(), cfg.ClinicLocation)
	}

	provider, err := rt.paymentProvider()
	if err != nil {
		return nil, err
	}
	settler := payment.NewSettler(provider, payment.SettlerConfig{
		Timeout:      cfg.PaymentSettleTimeout,
		PollInterval: cfg.PaymentPollInterval,
	}, rt.Logger.Named("payment"), rt.Metrics)

	docs, err := rt.documentStore(ctx)
	if err != nil {
		return nil, err
	}
	s.Prescriptions = prescription.NewGate(rxRepo, docs, cfg.PrescriptionValidity, rt.Logger.Named("prescription"))

	links, err := appointment.NewRoomLinks(cfg.MeetingBaseURL)
	if err != nil {
		return nil, fmt.Errorf("meeting links: %w", err)
	}

	events := notify.NewOutboxEmitter(s.Outbox, rt.Logger.Named("notify"))

	s.Appointments = appointment.NewService(appointment.Deps{
		Repo:          s.AppointmentRepo,
		Slots:         slots,
		Payments:      settler,
		Prescriptions: s.Prescriptions,
		Meetings:      links,
		Events:        events,
		Logger:        rt.Logger.Named("appointment"),
		Metrics:       rt.Metrics,
		Location:      cfg.ClinicLocation,
	})
	if _, err := s.Appointments.RestoreSlots(ctx); err != nil {
		return nil, fmt.Errorf("restore slot holds: %w", err)
	}
	s.Orders = order.NewService(order.Deps{
		Repo:     s.OrderRepo,
		Gate:     s.Prescriptions,
		Payments: settler,
		Events:   events,
		Logger:   rt.Logger.Named("order"),
		Metrics:  rt.Metrics,
		Pricing: order.Pricing{
			DeliveryFee:   cfg.DeliveryFee,
			FreeThreshold: cfg.FreeDeliveryThreshold,
		},
	})
	return s, nil
}

func (rt *Runtime) paymentProvider() (payment.Provider, error) {
	switch rt.Config.PaymentProvider {
	case "http":
		p, err := payment.NewHTTPProvider(payment.HTTPConfig{
			BaseURL: rt.Config.PaymentBaseURL,
			APIKey:  rt.Config.PaymentAPIKey,
			Timeout: rt.Config.PaymentSettleTimeout,
		})
		if err != nil {
			return nil, fmt.Errorf("payment provider: %w", err)
		}
		return p, nil
	default:
		rt.Logger.Warn("using simulated payment provider")
		return payment.NewSimulatedProvider(), nil
	}
}

func (rt *Runtime) documentStore(ctx context.Context) (prescription.DocumentStore, error) {
	if rt.Config.DocumentStore != "s3" {
		return prescription.NewMemoryDocumentStore(), nil
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(rt.Config.AWSRegion))
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}
	return prescription.NewS3DocumentStore(s3.NewFromConfig(awsCfg), rt.Config.S3Bucket), nil
}

// Publisher builds the transport the notification deliverer pushes to.
func (rt *Runtime) Publisher(ctx context.Context) (notify.Publisher, error) {
	switch rt.Config.NotifyTransport {
	case "redis":
		return notify.NewRedisPublisher(rt.Redis, rt.Config.NotifyChannel), nil
	case "sqs":
		awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(rt.Config.AWSRegion))
		if err != nil {
			return nil, fmt.Errorf("load aws config: %w", err)
		}
		return notify.NewSQSPublisher(sqs.NewFromConfig(awsCfg), rt.Config.SQSQueueURL), nil
	default:
		return notify.NewLogPublisher(rt.Logger.Named("notify")), nil
	}
}

// Deliverer builds the outbox drainer over the given store.
func (rt *Runtime) Deliverer(ctx context.Context, store notify.OutboxStore) (*notify.Deliverer, error) {
	pub, err := rt.Publisher(ctx)
	if err != nil {
		return nil, err
	}
	d := notify.NewDeliverer(store, pub, rt.Logger.Named("deliverer"), rt.Metrics).
		WithInterval(rt.Config.NotifyInterval).
		WithBatchSize(int32(rt.Config.NotifyBatchSize))
	rt.Logger.Info("notification transport ready", zap.String("transport", rt.Config.NotifyTransport))
	return d, nil
}
