package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/olekukonko/tablewriter"
	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"

	"ibtrading/models"
	"ibtrading/session"
	"ibtrading/writer"
)

type contractFlags struct {
	secType  string
	exchange string
	currency string
	expiry   string
	strike   float64
	right    string
}

func (f *contractFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVar(&f.secType, "sec-type", models.SecTypeStock, "Security type: STK, OPT or FUT")
	cmd.Flags().StringVar(&f.exchange, "exchange", "", "Exchange (defaults to SMART for stocks)")
	cmd.Flags().StringVar(&f.currency, "currency", "USD", "Currency")
	cmd.Flags().StringVar(&f.expiry, "expiry", "", "Expiry for options and futures, YYYYMMDD or YYYYMM")
	cmd.Flags().Float64Var(&f.strike, "strike", 0, "Option strike")
	cmd.Flags().StringVar(&f.right, "right", "", "Option right, C or P")
}

func (f *contractFlags) contract(symbol string) (models.Contract, error) {
	switch strings.ToUpper(f.secType) {
	case models.SecTypeStock:
		c := models.NewStock(symbol, f.currency)
		if f.exchange != "" {
			c.Exchange = f.exchange
		}
		return c, nil
	case models.SecTypeOption:
		if f.expiry == "" || f.strike == 0 || f.right == "" {
			return models.Contract{}, fmt.Errorf("options need --expiry, --strike and --right")
		}
		return models.NewOption(symbol, f.expiry, f.strike, f.right, f.exchange, f.currency), nil
	case models.SecTypeFuture:
		if f.expiry == "" {
			return models.Contract{}, fmt.Errorf("futures need --expiry")
		}
		return models.NewFuture(symbol, f.expiry, f.exchange, f.currency), nil
	}
	return models.Contract{}, fmt.Errorf("unsupported security type %q", f.secType)
}

func render[T models.Row](title string, res session.Result[T]) {
	fmt.Printf("%s: %s in %s\n", title, res.Outcome, res.Elapsed.Round(1e6))
	if len(res.Rows) == 0 {
		return
	}
	header, cells := models.Table(res.Rows)
	table := tablewriter.NewWriter(os.Stdout)
	table.SetHeader(header)
	table.SetAutoWrapText(false)
	table.AppendBulk(cells)
	table.Render()
}

func (a *app) nextIDCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "nextid",
		Short: "Request the next valid order id",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withSession(func(ctx context.Context, s *session.Session) error {
				id, ok, err := s.ReqIDs(ctx)
				if err != nil {
					return err
				}
				if !ok {
					fmt.Printf("no reply, last known id %d\n", id)
					return nil
				}
				fmt.Println(id)
				return nil
			})
		},
	}
}

func (a *app) contractCommand() *cobra.Command {
	var cf contractFlags
	var reqID int64
	cmd := &cobra.Command{
		Use:   "contract SYMBOL",
		Short: "Look up contract details",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			contract, err := cf.contract(args[0])
			if err != nil {
				return err
			}
			return a.withSession(func(ctx context.Context, s *session.Session) error {
				res, err := s.ReqContractDetails(ctx, reqID, contract)
				if err != nil {
					return err
				}
				render("contract details", res)
				return nil
			})
		},
	}
	cf.register(cmd)
	cmd.Flags().Int64Var(&reqID, "req-id", 1, "Request id")
	return cmd
}

func (a *app) historyCommand() *cobra.Command {
	var (
		cf          contractFlags
		reqID       int64
		maxHistory  bool
		rth         bool
		delayed     bool
		saveSQLite  bool
		saveParquet bool
		csvPath     string
	)
	req := models.DefaultHistoricalRequest()

	cmd := &cobra.Command{
		Use:   "history SYMBOL",
		Short: "Fetch historical bars",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			contract, err := cf.contract(args[0])
			if err != nil {
				return err
			}
			req.UseRTH = models.Bool(rth)
			return a.withSession(func(ctx context.Context, s *session.Session) error {
				var res session.Result[models.Bar]
				if maxHistory {
					res, err = s.ReqMaxHistory(ctx, reqID, contract, req)
				} else {
					var opts []session.RequestOption
					if delayed {
						opts = append(opts, session.DelayedData())
					}
					res, err = s.ReqHistoricalData(ctx, reqID, contract, req, opts...)
				}
				if err != nil {
					return err
				}
				render("historical data", res)
				if !res.OK() {
					return nil
				}
				return a.saveBars(ctx, contract.Symbol, res.Rows, saveSQLite, saveParquet, csvPath)
			})
		},
	}
	cf.register(cmd)
	cmd.Flags().Int64Var(&reqID, "req-id", 1, "Request id")
	cmd.Flags().StringVar(&req.EndDateTime, "end", "", "End date time, empty for now")
	cmd.Flags().StringVar(&req.Duration, "duration", req.Duration, "Duration, e.g. \"1 Y\" or \"30 D\"")
	cmd.Flags().StringVar(&req.BarSize, "bar-size", req.BarSize, "Bar size, e.g. \"1 day\" or \"5 mins\"")
	cmd.Flags().StringVar(&req.WhatToShow, "what", req.WhatToShow, "Data to show: TRADES, MIDPOINT, ADJUSTED_LAST...")
	cmd.Flags().BoolVar(&rth, "rth", true, "Regular trading hours only")
	cmd.Flags().BoolVar(&maxHistory, "max", false, "Fetch every daily bar since the head timestamp")
	cmd.Flags().BoolVar(&delayed, "delayed", false, "Use delayed market data")
	cmd.Flags().BoolVar(&saveSQLite, "save-sqlite", false, "Append bars to the SQLite store")
	cmd.Flags().BoolVar(&saveParquet, "save-parquet", false, "Archive bars as Parquet")
	cmd.Flags().StringVar(&csvPath, "csv", "", "Export bars to this CSV file")
	return cmd
}

func (a *app) saveBars(ctx context.Context, symbol string, bars []models.Bar, sqlite, parquet bool, csvPath string) error {
	st := a.cfg.Storage
	if sqlite {
		store, err := writer.OpenBarStore(st.SQLite.Path, st.SQLite.BatchSize)
		if err != nil {
			return err
		}
		defer store.Close()
		if err := store.Save(symbol, bars); err != nil {
			return err
		}
	}
	if parquet || st.Parquet.Enabled {
		archive, err := writer.NewParquetArchive(ctx, st)
		if err != nil {
			return err
		}
		if _, err := archive.Write(ctx, symbol, bars); err != nil {
			return err
		}
	}
	if csvPath != "" {
		if !filepath.IsAbs(csvPath) && st.CSV.Dir != "" {
			csvPath = filepath.Join(st.CSV.Dir, csvPath)
		}
		if err := writer.ExportCSVFile(csvPath, bars); err != nil {
			return err
		}
	}
	return nil
}

func (a *app) positionsCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "positions",
		Short: "List positions",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withSession(func(ctx context.Context, s *session.Session) error {
				res, err := s.ReqPositions(ctx)
				if err != nil {
					return err
				}
				render("positions", res)
				return nil
			})
		},
	}
}

func (a *app) summaryCommand() *cobra.Command {
	var group, tags string
	var reqID int64
	cmd := &cobra.Command{
		Use:   "summary",
		Short: "Show the account summary",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withSession(func(ctx context.Context, s *session.Session) error {
				res, err := s.ReqAccountSummary(ctx, reqID, group, tags)
				if err != nil {
					return err
				}
				render("account summary", res)
				return nil
			})
		},
	}
	cmd.Flags().Int64Var(&reqID, "req-id", 1, "Request id")
	cmd.Flags().StringVar(&group, "group", session.DefaultSummaryGroup, "Account group")
	cmd.Flags().StringVar(&tags, "tags", session.DefaultSummaryTags, "Comma separated summary tags")
	return cmd
}

func (a *app) pnlCommand() *cobra.Command {
	var account string
	var reqID int64
	cmd := &cobra.Command{
		Use:   "pnl",
		Short: "Show daily, unrealized and realized PnL",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withSession(func(ctx context.Context, s *session.Session) error {
				res, err := s.ReqPnL(ctx, reqID, account)
				if err != nil {
					return err
				}
				render("pnl", res)
				return nil
			})
		},
	}
	cmd.Flags().Int64Var(&reqID, "req-id", 1, "Request id")
	cmd.Flags().StringVar(&account, "account", "", "Account, defaults to gateway.account")
	return cmd
}

func (a *app) ordersCommand() *cobra.Command {
	var all, completed, apiOnly bool
	cmd := &cobra.Command{
		Use:   "orders",
		Short: "List open or completed orders",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withSession(func(ctx context.Context, s *session.Session) error {
				if completed {
					res, err := s.ReqCompletedOrders(ctx, apiOnly)
					if err != nil {
						return err
					}
					render("completed orders", res)
					return nil
				}
				var res session.Result[models.OpenOrder]
				var err error
				if all {
					res, err = s.ReqAllOpenOrders(ctx)
				} else {
					res, err = s.ReqOpenOrders(ctx)
				}
				if err != nil {
					return err
				}
				render("open orders", res)
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&all, "all", false, "Include orders of every client")
	cmd.Flags().BoolVar(&completed, "completed", false, "List completed orders instead")
	cmd.Flags().BoolVar(&apiOnly, "api-only", false, "Only completed orders placed through the API")
	return cmd
}

func (a *app) scanCommand() *cobra.Command {
	var reqID int64
	sub := models.ScannerSubscription{
		NumberOfRows: 50,
		Instrument:   "STK",
		LocationCode: "STK.US.MAJOR",
		ScanCode:     "TOP_PERC_GAIN",
	}
	var filters []string
	cmd := &cobra.Command{
		Use:   "scan",
		Short: "Run a market scanner",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			tags, err := parseTagValues(filters)
			if err != nil {
				return err
			}
			return a.withSession(func(ctx context.Context, s *session.Session) error {
				res, err := s.ReqScannerSubscription(ctx, reqID, sub, tags)
				if err != nil {
					return err
				}
				render("scanner", res)
				return nil
			})
		},
	}
	cmd.Flags().Int64Var(&reqID, "req-id", 1, "Request id")
	cmd.Flags().IntVar(&sub.NumberOfRows, "rows", sub.NumberOfRows, "Maximum rows")
	cmd.Flags().StringVar(&sub.Instrument, "instrument", sub.Instrument, "Instrument class")
	cmd.Flags().StringVar(&sub.LocationCode, "location", sub.LocationCode, "Location code")
	cmd.Flags().StringVar(&sub.ScanCode, "code", sub.ScanCode, "Scan code")
	cmd.Flags().Float64Var(&sub.AbovePrice, "above-price", 0, "Minimum price")
	cmd.Flags().Float64Var(&sub.BelowPrice, "below-price", 0, "Maximum price")
	cmd.Flags().Int64Var(&sub.AboveVolume, "above-volume", 0, "Minimum volume")
	cmd.Flags().StringSliceVar(&filters, "filter", nil, "Extra filter as TAG=VALUE, repeatable")
	return cmd
}

func parseTagValues(pairs []string) ([]models.TagValue, error) {
	out := make([]models.TagValue, 0, len(pairs))
	for _, p := range pairs {
		tag, value, ok := strings.Cut(p, "=")
		if !ok || tag == "" {
			return nil, fmt.Errorf("filter %q is not TAG=VALUE", p)
		}
		out = append(out, models.TagValue{Tag: tag, Value: value})
	}
	return out, nil
}

func (a *app) endSessionCommand() *cobra.Command {
	var account string
	var closeOrders, closePositions bool
	cmd := &cobra.Command{
		Use:   "end-session",
		Short: "Print a session summary and optionally flatten the account",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withSession(func(ctx context.Context, s *session.Session) error {
				snap, err := s.EndSession(ctx, account, closeOrders, closePositions)
				if err != nil {
					return err
				}
				render("positions", snap.Positions)
				render("pnl", snap.PnL)
				render("open orders", snap.OpenOrders)
				render("account summary", snap.AccountSummary)
				render("completed orders", snap.CompletedOrders)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&account, "account", "", "Account, defaults to gateway.account")
	cmd.Flags().BoolVar(&closeOrders, "close-orders", false, "Cancel every open order")
	cmd.Flags().BoolVar(&closePositions, "close-positions", false, "Close every position at market")
	return cmd
}

func (a *app) orderCommand() *cobra.Command {
	var (
		cf         contractFlags
		action     string
		qty        string
		limit      float64
		stopLoss   float64
		takeProfit float64
	)
	cmd := &cobra.Command{
		Use:   "order SYMBOL",
		Short: "Place a market, limit or bracket order",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			contract, err := cf.contract(args[0])
			if err != nil {
				return err
			}
			size, err := quantity(qty)
			if err != nil {
				return err
			}
			action = strings.ToUpper(action)
			entry := session.MarketOrder(action, size)
			if limit > 0 {
				entry = session.LimitOrder(action, size, limit)
			}
			bracket := stopLoss > 0 || takeProfit > 0

			return a.withSession(func(ctx context.Context, s *session.Session) error {
				id, ok, err := s.ReqIDs(ctx)
				if err != nil {
					return err
				}
				if !ok {
					return fmt.Errorf("no order id from gateway")
				}
				if !bracket {
					return s.PlaceOrder(ctx, id, contract, entry)
				}
				legs, err := session.BracketOrder(id,
					entry,
					models.Order{AuxPrice: stopLoss},
					models.Order{LmtPrice: takeProfit},
				)
				if err != nil {
					return err
				}
				return s.PlaceBracket(ctx, contract, legs)
			})
		},
	}
	cf.register(cmd)
	cmd.Flags().StringVar(&action, "action", models.ActionBuy, "BUY or SELL")
	cmd.Flags().StringVar(&qty, "qty", "1", "Quantity")
	cmd.Flags().Float64Var(&limit, "limit", 0, "Limit price; market order when unset")
	cmd.Flags().Float64Var(&stopLoss, "stop-loss", 0, "Stop loss trigger price for a bracket")
	cmd.Flags().Float64Var(&takeProfit, "take-profit", 0, "Take profit limit price for a bracket")
	return cmd
}

func (a *app) cancelCommand() *cobra.Command {
	var all bool
	cmd := &cobra.Command{
		Use:   "cancel [ORDER_ID]",
		Short: "Cancel an order, or every open order with --all",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if !all && len(args) == 0 {
				return fmt.Errorf("order id or --all is required")
			}
			var orderID int64
			if !all {
				if _, err := fmt.Sscan(args[0], &orderID); err != nil {
					return fmt.Errorf("order id %q: %w", args[0], err)
				}
			}
			return a.withSession(func(ctx context.Context, s *session.Session) error {
				if all {
					return s.ReqGlobalCancel(ctx)
				}
				return s.CancelOrder(ctx, orderID)
			})
		},
	}
	cmd.Flags().BoolVar(&all, "all", false, "Cancel every open order of the account")
	return cmd
}

// quantity parses an order size flag.
func quantity(s string) (decimal.Decimal, error) {
	q, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, fmt.Errorf("quantity %q: %w", s, err)
	}
	return q, nil
}
