package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"

	"example.com/storefront/internal/api"
	"example.com/storefront/internal/cart"
	"example.com/storefront/internal/catalog"
	"example.com/storefront/internal/checkout"
	"example.com/storefront/internal/config"
	"example.com/storefront/internal/logging"
	"example.com/storefront/internal/storefront"
)

const usage = `usage: storefront [flags] <command> [args]

commands:
  products [-search s] [-category c] [-tag t] [-sort s] [-page n] [-limit n] [-in-stock] [-min p] [-max p]
  product <id>
  search <term>
  cart
  cart-add <id> [qty]
  cart-set <id> <qty>
  cart-remove <id>
  wishlist
  wishlist-toggle <id>
  checkout -name n -address a -city c -postal p -country c -phone p -email e [-payment m]
  orders
  order-cancel <id>
  login <email> <password>
  register <name> <email> <password>
  logout
  me
`

func main() {
	cfg := config.Load()
	flag.StringVar(&cfg.APIBaseURL, "api", cfg.APIBaseURL, "base URL of the commerce API")
	flag.StringVar(&cfg.StateBackend, "state", cfg.StateBackend, "state backend: sqlite, redis or memory")
	flag.StringVar(&cfg.StatePath, "state-path", cfg.StatePath, "sqlite state file")
	flag.BoolVar(&cfg.UseTemporal, "temporal", cfg.UseTemporal, "submit orders through the Temporal checkout worker")
	flag.Usage = func() { fmt.Fprint(flag.CommandLine.Output(), usage) }
	flag.Parse()
	if flag.NArg() == 0 {
		flag.Usage()
		os.Exit(2)
	}

	logger := logging.NewWithWriter(os.Stderr, cfg.LogFormat, cfg.LogLevel)
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	app, err := storefront.New(ctx, cfg, logger, storefront.WithSessionExpired(func() {
		fmt.Fprintln(os.Stderr, "session expired: run `storefront login` again")
	}))
	if err != nil {
		logger.Error("start storefront failed", "error", err)
		os.Exit(1)
	}

	err = run(ctx, app, os.Stdout, flag.Arg(0), flag.Args()[1:])
	if closeErr := app.Close(); closeErr != nil {
		logger.Error("shutdown failed", "error", closeErr)
	}
	if err != nil {
		var verr *checkout.ValidationError
		if errors.As(err, &verr) {
			printJSON(os.Stdout, verr.Fields)
		}
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, app *storefront.App, out io.Writer, cmd string, args []string) error {
	switch cmd {
	case "products":
		filters, err := parseFilters(args)
		if err != nil {
			return err
		}
		page, err := app.Catalog.Products(ctx, filters)
		if err != nil {
			return err
		}
		return printJSON(out, map[string]any{"data": page.Products, "metadata": page.Meta})
	case "product":
		if err := need(args, 1, "product <id>"); err != nil {
			return err
		}
		p, err := app.Catalog.Product(ctx, args[0])
		if err != nil {
			return err
		}
		return printJSON(out, map[string]any{"product": p, "wishlisted": app.Wishlist.Contains(p.ID)})
	case "search":
		term := strings.Join(args, " ")
		res, err := app.Catalog.Search(ctx, term)
		if err != nil {
			return err
		}
		return printJSON(out, res)
	case "cart":
		return printJSON(out, map[string]any{"cart": app.Cart.Snapshot(), "quote": app.Checkout.Quote()})
	case "cart-add":
		if err := need(args, 1, "cart-add <id> [qty]"); err != nil {
			return err
		}
		qty := 1
		if len(args) > 1 {
			n, err := strconv.Atoi(args[1])
			if err != nil {
				return fmt.Errorf("quantity %q: %w", args[1], err)
			}
			qty = n
		}
		p, err := app.Catalog.Product(ctx, args[0])
		if err != nil {
			return err
		}
		if !p.InStock() {
			return fmt.Errorf("%s is out of stock", p.Name)
		}
		if err := app.Cart.AddItem(ctx, cart.ItemFromProduct(p, qty)); err != nil {
			return err
		}
		return printJSON(out, app.Cart.Snapshot())
	case "cart-set":
		if err := need(args, 2, "cart-set <id> <qty>"); err != nil {
			return err
		}
		n, err := strconv.Atoi(args[1])
		if err != nil {
			return fmt.Errorf("quantity %q: %w", args[1], err)
		}
		if err := app.Cart.UpdateQuantity(ctx, args[0], n); err != nil {
			return err
		}
		return printJSON(out, app.Cart.Snapshot())
	case "cart-remove":
		if err := need(args, 1, "cart-remove <id>"); err != nil {
			return err
		}
		if err := app.Cart.RemoveItem(ctx, args[0]); err != nil {
			return err
		}
		return printJSON(out, app.Cart.Snapshot())
	case "wishlist":
		return printJSON(out, app.Wishlist.Items())
	case "wishlist-toggle":
		if err := need(args, 1, "wishlist-toggle <id>"); err != nil {
			return err
		}
		if err := app.Wishlist.Toggle(ctx, args[0]); err != nil {
			return err
		}
		return printJSON(out, app.Wishlist.Items())
	case "checkout":
		details, err := parseDetails(args)
		if err != nil {
			return err
		}
		res, err := app.Checkout.Submit(ctx, details)
		if err != nil {
			return err
		}
		return printJSON(out, res)
	case "orders":
		orders, err := app.Orders.List(ctx)
		if err != nil {
			return err
		}
		return printJSON(out, orders)
	case "order-cancel":
		if err := need(args, 1, "order-cancel <id>"); err != nil {
			return err
		}
		order, err := app.Orders.Cancel(ctx, args[0])
		if err != nil {
			return err
		}
		return printJSON(out, order)
	case "login":
		if err := need(args, 2, "login <email> <password>"); err != nil {
			return err
		}
		resp, err := app.Client.Login(ctx, api.LoginRequest{Email: args[0], Password: args[1]})
		if err != nil {
			return err
		}
		return printJSON(out, resp.User)
	case "register":
		if err := need(args, 3, "register <name> <email> <password>"); err != nil {
			return err
		}
		resp, err := app.Client.Register(ctx, api.RegisterRequest{Name: args[0], Email: args[1], Password: args[2]})
		if err != nil {
			return err
		}
		return printJSON(out, resp.User)
	case "logout":
		return app.Client.Logout(ctx)
	case "me":
		user, err := app.Client.Me(ctx)
		if err != nil {
			return err
		}
		return printJSON(out, user)
	default:
		return fmt.Errorf("unknown command %q", cmd)
	}
}

func need(args []string, n int, form string) error {
	if len(args) < n {
		return fmt.Errorf("usage: storefront %s", form)
	}
	return nil
}

type tagList []string

func (t *tagList) String() string { return strings.Join(*t, ",") }

func (t *tagList) Set(v string) error {
	*t = append(*t, v)
	return nil
}

func parseFilters(args []string) (catalog.Filters, error) {
	fs := flag.NewFlagSet("products", flag.ContinueOnError)
	var (
		f                  catalog.Filters
		tags               tagList
		sortBy             string
		inStock            bool
		minPrice, maxPrice string
	)
	fs.StringVar(&f.Search, "search", "", "free-text filter")
	fs.StringVar(&f.Category, "category", "", "category")
	fs.Var(&tags, "tag", "tag filter, repeatable")
	fs.StringVar(&sortBy, "sort", "", "price-asc, price-desc, name, newest, popular or rating")
	fs.IntVar(&f.Page, "page", 0, "page number")
	fs.IntVar(&f.Limit, "limit", 0, "page size")
	fs.BoolVar(&inStock, "in-stock", false, "only products in stock")
	fs.StringVar(&minPrice, "min", "", "minimum price")
	fs.StringVar(&maxPrice, "max", "", "maximum price")
	if err := fs.Parse(args); err != nil {
		return catalog.Filters{}, err
	}
	f.Tags = tags
	f.SortBy = catalog.SortOption(sortBy)
	if sortBy != "" && !f.SortBy.Valid() {
		return catalog.Filters{}, fmt.Errorf("unknown sort %q", sortBy)
	}
	if inStock {
		f.InStock = &inStock
	}
	bounds := []struct {
		raw string
		dst **decimal.Decimal
	}{{minPrice, &f.MinPrice}, {maxPrice, &f.MaxPrice}}
	for _, b := range bounds {
		if b.raw == "" {
			continue
		}
		d, err := decimal.NewFromString(b.raw)
		if err != nil {
			return catalog.Filters{}, fmt.Errorf("price %q: %w", b.raw, err)
		}
		*b.dst = &d
	}
	return f, nil
}

func parseDetails(args []string) (checkout.Details, error) {
	fs := flag.NewFlagSet("checkout", flag.ContinueOnError)
	var (
		d       checkout.Details
		payment string
	)
	fs.StringVar(&d.FullName, "name", "", "full name")
	fs.StringVar(&d.Address, "address", "", "street address")
	fs.StringVar(&d.City, "city", "", "city")
	fs.StringVar(&d.PostalCode, "postal", "", "postal code")
	fs.StringVar(&d.Country, "country", "", "country")
	fs.StringVar(&d.Phone, "phone", "", "phone number")
	fs.StringVar(&d.Email, "email", "", "contact email")
	fs.StringVar(&payment, "payment", string(api.PaymentCard), "card, paypal or cash_on_delivery")
	if err := fs.Parse(args); err != nil {
		return checkout.Details{}, err
	}
	d.PaymentMethod = api.PaymentMethod(payment)
	return d, nil
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
