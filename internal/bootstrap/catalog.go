package bootstrap

import (
	"context"
	"fmt"
	"time"

	"github.com/brianvoe/gofakeit/v7"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/hackgods/care-fulfillment/internal/appointment"
	"github.com/hackgods/care-fulfillment/internal/db"
	"github.com/hackgods/care-fulfillment/internal/order"
)

var specialties = []string{
	"Dermatology",
	"Cardiology",
	"General Practice",
	"Orthopedics",
	"Endocrinology",
	"Neurology",
	"Pediatrics",
	"Psychiatry",
	"Ophthalmology",
	"ENT",
}

type catalogEntry struct {
	name string
	rx   bool
	low  float64
	high float64
}

var formulary = []catalogEntry{
	{"Panadol 500mg (20 tablets)", false, 80, 150},
	{"Brufen 400mg (30 tablets)", false, 120, 260},
	{"ORS Sachets (10 pack)", false, 90, 180},
	{"Vitamin D3 50,000 IU", false, 300, 650},
	{"Cetirizine 10mg (10 tablets)", false, 60, 140},
	{"Omeprazole 20mg (14 capsules)", false, 220, 420},
	{"Digital Thermometer", false, 450, 900},
	{"Augmentin 625mg (6 tablets)", true, 380, 520},
	{"Azithromycin 500mg (3 tablets)", true, 250, 400},
	{"Metformin 500mg (30 tablets)", true, 180, 320},
	{"Salbutamol Inhaler 100mcg", true, 2000, 2600},
	{"Amlodipine 5mg (30 tablets)", true, 280, 460},
}

// Catalog generates demo doctors and medicines. A zero seed picks a random one.
type Catalog struct {
	faker *gofakeit.Faker
	now   time.Time
}

func NewCatalog(seed uint64) *Catalog {
	return &Catalog{faker: gofakeit.New(seed), now: time.Now().UTC()}
}

func (c *Catalog) Doctors(count int) []appointment.Doctor {
	out := make([]appointment.Doctor, 0, count)
	for i := 0; i < count; i++ {
		fee := decimal.NewFromInt(int64(c.faker.Number(15, 60) * 100))
		out = append(out, appointment.Doctor{
			ID:        uuid.New(),
			Name:      "Dr. " + c.faker.Name(),
			Specialty: c.faker.RandomString(specialties),
			Fee:       fee,
			CreatedAt: c.now,
			UpdatedAt: c.now,
		})
	}
	return out
}

// Medicines returns the formulary with randomised shelf prices.
func (c *Catalog) Medicines() []order.Medicine {
	out := make([]order.Medicine, 0, len(formulary))
	for _, e := range formulary {
		price := decimal.NewFromFloat(c.faker.Price(e.low, e.high)).Round(0)
		out = append(out, order.Medicine{
			ID:                   uuid.New(),
			Name:                 e.name,
			Price:                price,
			PrescriptionRequired: e.rx,
			CreatedAt:            c.now,
		})
	}
	return out
}

// SeedMemoryCatalog fills in-memory repositories so a memory-backed server
// has something to book and buy.
func SeedMemoryCatalog(appts *appointment.MemoryRepository, orders *order.MemoryRepository, seed uint64) {
	c := NewCatalog(seed)
	for _, d := range c.Doctors(len(specialties)) {
		appts.AddDoctor(d)
	}
	for _, m := range c.Medicines() {
		orders.AddMedicine(m)
	}
}

// InsertCatalog writes doctors and medicines. Callers pass a transaction so
// a failed seed leaves nothing behind.
func InsertCatalog(ctx context.Context, conn db.DBTX, doctors []appointment.Doctor, medicines []order.Medicine) error {
	for _, d := range doctors {
		_, err := conn.Exec(ctx, `
			INSERT INTO doctors (id, name, specialty, fee, created_at, updated_at)
			VALUES ($1, $2, $3, $4, $5, $5)
		`, d.ID, d.Name, d.Specialty, d.Fee, d.CreatedAt)
		if err != nil {
			return fmt.Errorf("insert doctor %s: %w", d.Name, err)
		}
	}
	for _, m := range medicines {
		_, err := conn.Exec(ctx, `
			INSERT INTO medicines (id, name, price, prescription_required, created_at)
			VALUES ($1, $2, $3, $4, $5)
		`, m.ID, m.Name, m.Price, m.PrescriptionRequired, m.CreatedAt)
		if err != nil {
			return fmt.Errorf("insert medicine %s: %w", m.Name, err)
		}
	}
	return nil
}
