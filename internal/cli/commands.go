package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/dmehra2102/lumina-commerce/internal/cart"
	"github.com/dmehra2102/lumina-commerce/internal/dashboard"
	salesapp "github.com/dmehra2102/lumina-commerce/internal/sales/application"
	"github.com/dmehra2102/lumina-commerce/internal/sales/domain"
)

func newPOSCommand(opts *RootOptions, open Opener) *cobra.Command {
	pos := &cobra.Command{Use: "pos", Short: "Point of sale"}

	var (
		items    []string
		customer string
	)
	sell := &cobra.Command{
		Use:     "sell",
		Short:   "Ring up a sale at the terminal",
		Example: "  commercectl pos sell --item mug:2 --item pen:1 --customer \"Ada\"",
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(items) == 0 {
				return errors.New("at least one --item is required")
			}
			return withSession(cmd, opts, open, func(ctx context.Context, s *Session) error {
				c := cart.New()
				for _, raw := range items {
					id, qty, err := parseItem(raw)
					if err != nil {
						return err
					}
					p, ok := s.Cache.Product(id)
					if !ok {
						return fmt.Errorf("unknown product %q", id)
					}
					if err := c.Add(p, qty); err != nil {
						return err
					}
				}

				req := salesapp.PlaceOrderRequest{Channel: domain.ChannelPOS, Items: c.Items()}
				if customer != "" {
					ref := &domain.CustomerRef{Name: customer}
					for _, cu := range s.Cache.Customers() {
						if strings.EqualFold(cu.Name, customer) {
							ref.ID, ref.Name = cu.ID, cu.Name
							break
						}
					}
					req.Customer = ref
				}

				sale, err := s.Sales.PlaceOrder(ctx, req)
				var recErr *salesapp.ReconciliationError
				if err != nil && !errors.As(err, &recErr) {
					return err
				}
				code := opts.currencyCode(s)
				out := struct {
					Sale         string                    `json:"sale"`
					Reference    string                    `json:"reference"`
					Total        string                    `json:"total"`
					Customer     string                    `json:"customer"`
					Unreconciled []domain.UnreconciledLine `json:"unreconciled,omitempty"`
				}{sale.ID, sale.Reference(), s.Currencies.Format(sale.TotalCents, code), sale.CustomerName, nil}
				if recErr != nil {
					out.Unreconciled = recErr.Lines
				}
				return emit(cmd.OutOrStdout(), opts, out, func(w io.Writer) {
					fmt.Fprintf(w, "sale %s recorded for %s: %s (%d items)\n", out.Reference, out.Customer, out.Total, c.ItemCount())
					for _, l := range out.Unreconciled {
						fmt.Fprintf(w, "warning: stock for %s not reconciled: %s\n", l.ProductID, l.Reason)
					}
				})
			})
		},
	}
	sell.Flags().StringArrayVar(&items, "item", nil, "product id and quantity as id:qty (repeatable)")
	sell.Flags().StringVar(&customer, "customer", "", "registered customer name (default Walk-in)")
	pos.AddCommand(sell)
	return pos
}

// parseItem reads "id:qty"; a bare id means one unit.
func parseItem(raw string) (string, int, error) {
	id, qtyStr, found := strings.Cut(raw, ":")
	if id == "" {
		return "", 0, fmt.Errorf("invalid item %q", raw)
	}
	if !found {
		return id, 1, nil
	}
	qty, err := strconv.Atoi(qtyStr)
	if err != nil {
		return "", 0, fmt.Errorf("invalid quantity in %q: %w", raw, err)
	}
	return id, qty, nil
}

func newShipCommand(opts *RootOptions, open Opener) *cobra.Command {
	return &cobra.Command{
		Use:   "ship <sale-id>",
		Short: "Mark an online order as shipped",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withSession(cmd, opts, open, func(ctx context.Context, s *Session) error {
				sale, err := s.Sales.MarkShipped(ctx, args[0])
				if err != nil {
					return err
				}
				out := map[string]string{"sale": sale.ID, "deliveryStatus": string(sale.DeliveryStatus)}
				return emit(cmd.OutOrStdout(), opts, out, func(w io.Writer) {
					fmt.Fprintf(w, "sale %s is %s\n", sale.Reference(), sale.DeliveryStatus)
				})
			})
		},
	}
}

func newPendingCommand(opts *RootOptions, open Opener) *cobra.Command {
	return &cobra.Command{
		Use:   "pending",
		Short: "List online orders waiting for dispatch",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withSession(cmd, opts, open, func(ctx context.Context, s *Session) error {
				pending := s.Sales.ListPending()
				code := opts.currencyCode(s)
				type row struct {
					Sale  string `json:"sale"`
					Total string `json:"total"`
					Items int    `json:"items"`
				}
				rows := make([]row, 0, len(pending))
				for _, p := range pending {
					n := 0
					for _, it := range p.Items {
						n += it.Quantity
					}
					rows = append(rows, row{Sale: p.ID, Total: s.Currencies.Format(p.TotalCents, code), Items: n})
				}
				return emit(cmd.OutOrStdout(), opts, rows, func(w io.Writer) {
					if len(rows) == 0 {
						fmt.Fprintln(w, "nothing to ship")
						return
					}
					for _, r := range rows {
						fmt.Fprintf(w, "%s  %3d items  %s\n", r.Sale, r.Items, r.Total)
					}
				})
			})
		},
	}
}

func newDashboardCommand(opts *RootOptions, open Opener) *cobra.Command {
	return &cobra.Command{
		Use:   "dashboard",
		Short: "Show revenue totals",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withSession(cmd, opts, open, func(ctx context.Context, s *Session) error {
				report := dashboard.Summarize(s.Cache.Sales(), s.Location).Report(s.Currencies, opts.currencyCode(s))
				return emit(cmd.OutOrStdout(), opts, report, func(w io.Writer) {
					fmt.Fprintf(w, "revenue  %s\n", report.Revenue)
					fmt.Fprintf(w, "online   %s\n", report.Online)
					fmt.Fprintf(w, "pos      %s\n", report.POS)
					fmt.Fprintf(w, "orders   %d (%d to ship)\n", report.Orders, report.PendingShipments)
					for _, d := range report.ByWeekday {
						fmt.Fprintf(w, "  %s  %s  (%d)\n", d.Day, d.Revenue, d.Orders)
					}
				})
			})
		},
	}
}

func newCustomersCommand(opts *RootOptions, open Opener) *cobra.Command {
	customers := &cobra.Command{Use: "customers", Short: "Customer registry"}

	add := &cobra.Command{
		Use:   "add <name>",
		Short: "Register a customer",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withSession(cmd, opts, open, func(ctx context.Context, s *Session) error {
				c, err := s.Catalog.CreateCustomer(ctx, strings.Join(args, " "), nil)
				if err != nil {
					return err
				}
				return emit(cmd.OutOrStdout(), opts, map[string]string{"id": c.ID, "name": c.Name}, func(w io.Writer) {
					fmt.Fprintf(w, "customer %s registered (%s)\n", c.Name, c.ID)
				})
			})
		},
	}
	list := &cobra.Command{
		Use:   "list",
		Short: "List registered customers",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withSession(cmd, opts, open, func(ctx context.Context, s *Session) error {
				all := s.Cache.Customers()
				names := make([]string, 0, len(all))
				for _, c := range all {
					names = append(names, c.Name)
				}
				return emit(cmd.OutOrStdout(), opts, names, func(w io.Writer) {
					for _, c := range all {
						fmt.Fprintf(w, "[%s] %s\n", c.Initial(), c.Name)
					}
				})
			})
		},
	}
	customers.AddCommand(add, list)
	return customers
}

func newStockCommand(opts *RootOptions, open Opener) *cobra.Command {
	stock := &cobra.Command{Use: "stock", Short: "Edit inventory"}

	set := &cobra.Command{
		Use:   "set <product-id> <quantity>",
		Short: "Set a product's stock",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			n, err := strconv.Atoi(args[1])
			if err != nil {
				return fmt.Errorf("invalid quantity %q", args[1])
			}
			return withSession(cmd, opts, open, func(ctx context.Context, s *Session) error {
				p, err := s.Catalog.SetStock(ctx, args[0], n)
				if err != nil {
					return err
				}
				return emit(cmd.OutOrStdout(), opts, map[string]any{"id": p.ID, "stock": p.Stock}, func(w io.Writer) {
					fmt.Fprintf(w, "%s stock is %d\n", p.Name, p.Stock)
				})
			})
		},
	}
	adjust := &cobra.Command{
		Use:   "adjust <product-id> <delta>",
		Short: "Add to or remove from a product's stock",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			n, err := strconv.Atoi(args[1])
			if err != nil {
				return fmt.Errorf("invalid delta %q", args[1])
			}
			return withSession(cmd, opts, open, func(ctx context.Context, s *Session) error {
				p, err := s.Catalog.AdjustStock(ctx, args[0], n)
				if err != nil {
					return err
				}
				return emit(cmd.OutOrStdout(), opts, map[string]any{"id": p.ID, "stock": p.Stock}, func(w io.Writer) {
					fmt.Fprintf(w, "%s stock is %d\n", p.Name, p.Stock)
				})
			})
		},
	}
	stock.AddCommand(set, adjust)
	return stock
}
