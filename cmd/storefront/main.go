package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"text/tabwriter"

	"go.uber.org/zap"

	"flowershop/internal/apiclient"
	"flowershop/internal/checkout"
	"flowershop/internal/config"
	"flowershop/internal/domain"
	"flowershop/internal/env"
	"flowershop/internal/logging"
	"flowershop/internal/pricing"
	"flowershop/internal/session"
	"flowershop/internal/storefront"
)

const usage = `usage: storefront [flags] <command> [args]

commands:
  catalog [-category c] [-q text] [-sort s] [-page n] [-in-stock]
  flower <id>
  cart show | add <id> [qty] | remove <id> | set <id> <qty> | clear
  login -email e -password p
  telegram -init-data d
  logout
  whoami
  orders [-page n]
  checkout -address a -date YYYY-MM-DD -slot morning|afternoon|evening [-promo code] [-bonus n] [-note text]
`

func main() {
	env.Load(".env", ".env.local")
	envDefaults := config.EnvDefaults()

	apiURL := flag.String("api", envDefaults.APIBaseURL, "backend base URL")
	stateDir := flag.String("state", envDefaults.StateDir, "directory for cart and session state")
	tz := flag.String("tz", envDefaults.Timezone, "time zone for delivery dates")
	verbose := flag.Bool("v", false, "verbose logging")
	flag.Usage = func() { fmt.Fprint(os.Stderr, usage) }
	flag.Parse()

	cfg := envDefaults
	cfg.APIBaseURL = *apiURL
	cfg.StateDir = *stateDir
	cfg.Timezone = *tz

	logger, err := logging.New(cfg.Env, false)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	if !*verbose {
		logger = logger.WithOptions(zap.IncreaseLevel(zap.WarnLevel))
	}
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	app, err := storefront.New(ctx, storefront.Config{
		APIBaseURL: cfg.APIBaseURL,
		StateDir:   cfg.StateDir,
		Location:   cfg.Location(),
	}, logger)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	if err := dispatch(ctx, app, flag.Args()); err != nil {
		fmt.Fprintln(os.Stderr, "error:", describe(err))
		os.Exit(1)
	}
}

func dispatch(ctx context.Context, app *storefront.App, args []string) error {
	if len(args) == 0 {
		fmt.Fprint(os.Stderr, usage)
		return errors.New("no command")
	}
	cmd, rest := args[0], args[1:]
	switch cmd {
	case "catalog":
		return cmdCatalog(ctx, app, rest)
	case "flower":
		if len(rest) != 1 {
			return errors.New("flower <id>")
		}
		f, err := app.API.GetFlower(ctx, rest[0])
		if err != nil {
			return err
		}
		fmt.Printf("%s  %s  %s  in stock: %v\n%s\n", f.ID, f.Name, f.Price.StringFixed(2), f.InStock, f.Description)
		return nil
	case "cart":
		return cmdCart(ctx, app, rest)
	case "login":
		fs := flag.NewFlagSet("login", flag.ContinueOnError)
		email := fs.String("email", "", "")
		password := fs.String("password", "", "")
		if err := fs.Parse(rest); err != nil {
			return err
		}
		u, err := app.Login(ctx, *email, *password)
		if err != nil {
			return err
		}
		fmt.Printf("signed in as %s (%d bonus points)\n", displayName(u), u.BonusBalance)
		return nil
	case "telegram":
		fs := flag.NewFlagSet("telegram", flag.ContinueOnError)
		initData := fs.String("init-data", "", "Mini-App initData query string")
		if err := fs.Parse(rest); err != nil {
			return err
		}
		u, err := app.LoginTelegram(ctx, nil, *initData)
		if err != nil {
			return err
		}
		fmt.Printf("signed in as %s\n", displayName(u))
		return nil
	case "logout":
		app.Logout()
		fmt.Println("signed out")
		return nil
	case "whoami":
		u, err := app.RefreshProfile(ctx)
		if err != nil {
			return err
		}
		fmt.Printf("%s <%s>  bonus: %d\n", displayName(u), u.Email, u.BonusBalance)
		return nil
	case "orders":
		fs := flag.NewFlagSet("orders", flag.ContinueOnError)
		page := fs.Int("page", 1, "")
		if err := fs.Parse(rest); err != nil {
			return err
		}
		p, err := app.API.ListOrders(ctx, *page, 0)
		if err != nil {
			return err
		}
		tw := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(tw, "ID\tDATE\tSLOT\tTOTAL\tSTATUS")
		for _, o := range p.Items {
			fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n", o.ID, o.DeliveryDate, o.DeliverySlot, o.TotalAmount.StringFixed(2), o.Status)
		}
		tw.Flush()
		fmt.Printf("page %d of %d\n", p.Page, p.Pages)
		return nil
	case "checkout":
		return cmdCheckout(ctx, app, rest)
	}
	return fmt.Errorf("unknown command %q", cmd)
}

func cmdCatalog(ctx context.Context, app *storefront.App, args []string) error {
	fs := flag.NewFlagSet("catalog", flag.ContinueOnError)
	category := fs.String("category", "", "")
	q := fs.String("q", "", "")
	sort := fs.String("sort", "", "price_asc|price_desc|name|newest")
	page := fs.Int("page", 1, "")
	inStock := fs.Bool("in-stock", false, "only flowers in stock")
	if err := fs.Parse(args); err != nil {
		return err
	}
	p := apiclient.ListParams{Category: *category, Search: *q, Sort: *sort, Page: *page}
	if *inStock {
		p.InStock = inStock
	}
	res, err := app.API.ListFlowers(ctx, p)
	if err != nil {
		return err
	}
	tw := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tNAME\tCATEGORY\tPRICE\tSTOCK")
	for _, f := range res.Items {
		stock := "yes"
		if !f.InStock {
			stock = "no"
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n", f.ID, f.Name, f.Category, f.Price.StringFixed(2), stock)
	}
	tw.Flush()
	fmt.Printf("page %d of %d (%d flowers)\n", res.Page, res.Pages, res.Total)
	return nil
}

func cmdCart(ctx context.Context, app *storefront.App, args []string) error {
	sub := "show"
	if len(args) > 0 {
		sub, args = args[0], args[1:]
	}
	switch sub {
	case "show":
	case "add":
		if len(args) < 1 {
			return errors.New("cart add <id> [qty]")
		}
		qty := 1
		if len(args) > 1 {
			n, err := strconv.Atoi(args[1])
			if err != nil {
				return fmt.Errorf("quantity: %w", err)
			}
			qty = n
		}
		if _, err := app.AddToCart(ctx, args[0], qty); err != nil {
			return err
		}
	case "remove":
		if len(args) != 1 {
			return errors.New("cart remove <id>")
		}
		app.Cart.RemoveItem(args[0])
	case "set":
		if len(args) != 2 {
			return errors.New("cart set <id> <qty>")
		}
		n, err := strconv.Atoi(args[1])
		if err != nil {
			return fmt.Errorf("quantity: %w", err)
		}
		app.Cart.UpdateQuantity(args[0], n)
	case "clear":
		app.Cart.Clear()
	default:
		return fmt.Errorf("unknown cart command %q", sub)
	}
	printCart(app)
	return nil
}

func printCart(app *storefront.App) {
	items := app.Cart.Items()
	if len(items) == 0 {
		fmt.Println("cart is empty")
		return
	}
	tw := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tNAME\tQTY\tPRICE\tLINE")
	for _, it := range items {
		fmt.Fprintf(tw, "%s\t%s\t%d\t%s\t%s\n", it.Flower.ID, it.Flower.Name, it.Quantity, it.Flower.Price.StringFixed(2), it.LineTotal().StringFixed(2))
	}
	tw.Flush()
	b := pricing.Calculate(pricing.Input{Items: items})
	fmt.Printf("%d items, subtotal %s, delivery %s\n", app.Cart.TotalItemCount(), b.Subtotal.StringFixed(2), b.DeliveryFee.StringFixed(2))
}

func cmdCheckout(ctx context.Context, app *storefront.App, args []string) error {
	fs := flag.NewFlagSet("checkout", flag.ContinueOnError)
	address := fs.String("address", "", "")
	date := fs.String("date", "", "YYYY-MM-DD")
	slot := fs.String("slot", "", "morning|afternoon|evening")
	note := fs.String("note", "", "delivery instructions")
	promo := fs.String("promo", "", "")
	bonus := fs.Int64("bonus", 0, "bonus points to redeem")
	dryRun := fs.Bool("dry-run", false, "show totals without placing the order")
	if err := fs.Parse(args); err != nil {
		return err
	}

	co, err := app.Checkout()
	if err != nil {
		return err
	}
	if *promo != "" {
		if err := co.ApplyPromo(ctx, *promo); err != nil {
			return err
		}
	}
	if *bonus > 0 {
		if _, err := co.UseBonus(*bonus); err != nil {
			return err
		}
	}
	if err := co.Next(); err != nil {
		return err
	}
	s, _ := domain.ParseSlot(*slot)
	if err := co.SetDelivery(domain.DeliverySelection{Address: *address, Date: *date, Slot: s, Instructions: *note}); err != nil {
		return err
	}
	if err := co.Next(); err != nil {
		return err
	}
	fmt.Println(co.Summary())
	if *dryRun {
		return nil
	}
	o, err := co.Submit(ctx)
	if err != nil {
		return err
	}
	fmt.Printf("order %s placed, total %s, %d bonus points earned\n", o.ID, o.TotalAmount.StringFixed(2), o.BonusPointsEarned)
	if _, err := app.RefreshProfile(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "could not refresh profile:", describe(err))
	}
	return nil
}

func describe(err error) string {
	var verr *domain.ValidationError
	var apiErr *apiclient.APIError
	switch {
	case errors.Is(err, checkout.ErrLoginRequired), errors.Is(err, session.ErrLoginRequired):
		return "sign in first: storefront login -email ... -password ..."
	case errors.Is(err, checkout.ErrEmptyCart):
		return "your cart is empty, browse the catalog first"
	case errors.Is(err, pricing.ErrUnknownPromo):
		return "that promo code is not valid"
	case errors.As(err, &verr):
		return "check delivery details: " + strings.TrimPrefix(verr.Error(), "invalid delivery: ")
	case errors.As(err, &apiErr):
		return apiErr.Message
	}
	return err.Error()
}

func displayName(u domain.User) string {
	if u.Name != "" {
		return u.Name
	}
	if u.Email != "" {
		return u.Email
	}
	return u.ID
}
