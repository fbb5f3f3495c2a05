package mockapi

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"example.com/storefront/internal/sqliteutil"
)

func price(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func pricePtr(s string) *decimal.Decimal {
	d := price(s)
	return &d
}

// seedProducts alternates the two backend shapes so clients always see both.
var seedProducts = []Product{
	{ID: "p-lamp-arc", Shape: ShapeDocument, Name: "Arc Floor Lamp", Description: "Brushed steel arc lamp with a linen shade.", Price: price("129.00"), OriginalPrice: pricePtr("159.00"), Category: "lighting", Stock: 14, Rating: 4.6, ReviewCount: 88, Images: []string{"/img/lamp-arc-1.jpg", "/img/lamp-arc-2.jpg"}, Tags: []string{"living-room", "sale"}},
	{ID: "p-lamp-desk", Shape: ShapeFlat, Name: "Desk Lamp", Description: "Adjustable LED desk lamp.", Price: price("45.50"), Category: "lighting", Stock: 40, Rating: 4.2, ReviewCount: 132, Images: []string{"/img/lamp-desk.jpg"}, Tags: []string{"office"}},
	{ID: "p-chair-oak", Shape: ShapeDocument, Name: "Oak Dining Chair", Description: "Solid oak chair with a woven seat.", Price: price("89.99"), Category: "furniture", Stock: 0, Rating: 4.8, ReviewCount: 41, Images: []string{"/img/chair-oak.jpg"}, Tags: []string{"dining-room"}},
	{ID: "p-chair-office", Shape: ShapeFlat, Name: "Ergonomic Office Chair", Description: "Mesh back office chair with lumbar support.", Price: price("249.00"), OriginalPrice: pricePtr("299.00"), Category: "furniture", Stock: 7, Rating: 4.5, ReviewCount: 210, Images: []string{"/img/chair-office.jpg"}, Tags: []string{"office", "sale"}},
	{ID: "p-table-side", Shape: ShapeDocument, Name: "Walnut Side Table", Description: "Round side table in walnut veneer.", Price: price("75.00"), Category: "furniture", Stock: 22, Rating: 4.1, ReviewCount: 19, Images: []string{"/img/table-side.jpg"}, Tags: []string{"living-room"}},
	{ID: "p-rug-wool", Shape: ShapeFlat, Name: "Wool Area Rug", Description: "Hand-tufted wool rug, 160x230.", Price: price("199.00"), Category: "textiles", Stock: 5, Rating: 3.9, ReviewCount: 27, Images: []string{"/img/rug-wool.jpg"}, Tags: []string{"living-room"}},
	{ID: "p-throw-linen", Shape: ShapeDocument, Name: "Linen Throw", Description: "Stonewashed linen throw blanket.", Price: price("39.00"), OriginalPrice: pricePtr("49.00"), Category: "textiles", Stock: 60, Rating: 4.7, ReviewCount: 301, Images: []string{"/img/throw-linen.jpg"}, Tags: []string{"bedroom", "sale"}},
	{ID: "p-mirror-round", Shape: ShapeFlat, Name: "Round Wall Mirror", Description: "Brass framed mirror, 60cm.", Price: price("110.00"), Category: "decor", Stock: 12, Rating: 4.4, ReviewCount: 56, Images: []string{"/img/mirror-round.jpg"}, Tags: []string{"hallway"}},
	{ID: "p-vase-clay", Shape: ShapeDocument, Name: "Clay Vase", Description: "Hand-thrown terracotta vase.", Price: price("29.90"), Category: "decor", Stock: 33, Rating: 4.0, ReviewCount: 12, Images: []string{"/img/vase-clay.jpg"}, Tags: []string{"living-room", "gift"}},
	{ID: "p-shelf-wall", Shape: ShapeFlat, Name: "Floating Wall Shelf", Description: "Set of two oak wall shelves.", Price: price("54.00"), Category: "furniture", Stock: 18, Rating: 4.3, ReviewCount: 74, Images: []string{"/img/shelf-wall.jpg"}, Tags: []string{"office", "living-room"}},
	{ID: "p-candle-soy", Shape: ShapeDocument, Name: "Soy Candle", Description: "Cedar and amber scented soy candle.", Price: price("18.00"), Category: "decor", Stock: 120, Rating: 4.9, ReviewCount: 512, Images: []string{"/img/candle-soy.jpg"}, Tags: []string{"gift"}},
	{ID: "p-pendant-glass", Shape: ShapeFlat, Name: "Glass Pendant Light", Description: "Smoked glass pendant for kitchen islands.", Price: price("95.00"), Category: "lighting", Stock: 9, Rating: 4.2, ReviewCount: 38, Images: []string{"/img/pendant-glass.jpg"}, Tags: []string{"kitchen"}},
	{ID: "p-bench-entry", Shape: ShapeDocument, Name: "Entryway Bench", Description: "Slatted bench with shoe storage.", Price: price("139.00"), Category: "furniture", Stock: 3, Rating: 4.6, ReviewCount: 22, Images: []string{"/img/bench-entry.jpg"}, Tags: []string{"hallway"}},
	{ID: "p-cushion-velvet", Shape: ShapeFlat, Name: "Velvet Cushion", Description: "Velvet cushion cover with insert.", Price: price("24.00"), Category: "textiles", Stock: 0, Rating: 4.1, ReviewCount: 66, Images: []string{"/img/cushion-velvet.jpg"}, Tags: []string{"living-room", "bedroom"}},
}

// Seed loads the fixed catalog when the products table is empty. It reports
// how many products it inserted.
func (s *Store) Seed(ctx context.Context) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM products`).Scan(&n); err != nil {
		return 0, fmt.Errorf("count products: %w", err)
	}
	if n > 0 {
		return 0, nil
	}
	base := s.now()
	for i, p := range seedProducts {
		p.CreatedAt = base.Add(-time.Duration(i) * time.Hour)
		if _, err := s.InsertProduct(ctx, p); err != nil {
			return i, fmt.Errorf("seed %s: %w", p.ID, err)
		}
	}
	return len(seedProducts), nil
}

var (
	adjectives = []string{"Rattan", "Ceramic", "Marble", "Bamboo", "Copper", "Velvet", "Teak", "Linen"}
	nouns      = []string{"Basket", "Bowl", "Stool", "Planter", "Clock", "Tray", "Lantern", "Ottoman"}
	categories = []string{"furniture", "lighting", "decor", "textiles"}
	tagPool    = []string{"gift", "sale", "office", "living-room", "bedroom", "kitchen"}
)

// CreateRandomProduct inserts a generated product in a random shape.
func (s *Store) CreateRandomProduct(ctx context.Context) (Product, error) {
	p := Product{
		Shape:       ShapeDocument,
		Name:        fmt.Sprintf("%s %s", adjectives[s.rnd.Intn(len(adjectives))], nouns[s.rnd.Intn(len(nouns))]),
		Price:       decimal.New(int64(500+s.rnd.Intn(30000)), -2),
		Category:    categories[s.rnd.Intn(len(categories))],
		Stock:       s.rnd.Intn(50),
		Rating:      float64(10+s.rnd.Intn(41)) / 10,
		ReviewCount: s.rnd.Intn(400),
		Tags:        []string{tagPool[s.rnd.Intn(len(tagPool))]},
	}
	if s.rnd.Intn(2) == 1 {
		p.Shape = ShapeFlat
	}
	p.Description = fmt.Sprintf("A %s for the %s collection.", p.Name, p.Category)
	return s.InsertProduct(ctx, p)
}

// Open opens the database at path, applies the schema and seeds the catalog.
// The caller closes the returned *sql.DB.
func Open(ctx context.Context, path string) (*Store, *sql.DB, error) {
	db, err := sqliteutil.Open(path)
	if err != nil {
		return nil, nil, err
	}
	store := NewStore(db)
	if err := store.Init(ctx); err != nil {
		db.Close()
		return nil, nil, err
	}
	if _, err := store.Seed(ctx); err != nil {
		db.Close()
		return nil, nil, err
	}
	return store, db, nil
}
