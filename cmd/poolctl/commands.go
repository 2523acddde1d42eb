package main

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"poolbridge/internal/config"
	"poolbridge/internal/jobstore"
	"poolbridge/internal/numeral"
	"poolbridge/internal/pool"
	"poolbridge/internal/relayer"
	"poolbridge/internal/server"
	"poolbridge/internal/telemetry"
	"poolbridge/internal/watcher"

	"github.com/ethereum/go-ethereum/common"
	"github.com/urfave/cli"
)

// env is what every command builds from flags and configuration.
type env struct {
	cfg *config.AppConfig
	tel *telemetry.Telemetry
}

func loadEnv(c *cli.Context, daemon bool) (*env, error) {
	cfg, err := config.LoadFrom(c.GlobalString(ConfigDir.Name), c.GlobalString(Environment.Name))
	if err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	if v := c.GlobalString(ProviderEndpoint.Name); v != "" {
		cfg.Web3.ProviderEndpoint = v
	}
	if v := c.GlobalString(PoolAddress.Name); v != "" {
		cfg.Web3.PoolAddress = v
	}
	if v := c.GlobalString(RelayerURL.Name); v != "" {
		cfg.Relayer.URL = v
	}

	// One-shot commands keep stdout for their result.
	var tel *telemetry.Telemetry
	if daemon {
		tel, err = telemetry.Setup(cfg.Telemetry)
	} else {
		tel, err = telemetry.New(cfg.Telemetry, os.Stderr)
	}
	if err != nil {
		return nil, fmt.Errorf("telemetry: %w", err)
	}
	return &env{cfg: cfg, tel: tel}, nil
}

func (e *env) pool(ctx context.Context) (*pool.Client, error) {
	return pool.Dial(ctx, pool.Settings{
		ProviderEndpoint: e.cfg.Web3.ProviderEndpoint,
		PoolAddress:      e.cfg.Web3.PoolAddress,
		Timeout:          e.cfg.Web3.ProviderTimeout(),
	}, e.tel.HTTPClient("rpc"))
}

func (e *env) relayer() (*relayer.Client, error) {
	return relayer.New(e.cfg.Relayer.URL,
		relayer.WithHTTPClient(e.tel.HTTPClient("relayer")),
		relayer.WithLibVersion(e.cfg.Relayer.LibVersion),
		relayer.WithSupportID(e.cfg.Relayer.SupportID),
	)
}

func (e *env) store(ctx context.Context) (jobstore.Store, func(), error) {
	if dsn := e.cfg.Service.PostgresDSN; dsn != "" {
		s, err := jobstore.NewPostgresStore(ctx, dsn)
		if err != nil {
			return nil, nil, fmt.Errorf("job store: %w", err)
		}
		return s, s.Close, nil
	}
	s, err := jobstore.NewFileStore(e.cfg.Service.JobStorePath)
	if err != nil {
		return nil, nil, fmt.Errorf("job store: %w", err)
	}
	return s, func() {}, nil
}

func (e *env) watcher(source watcher.JobSource, store jobstore.Store, maxPolls int) (*watcher.Watcher, error) {
	if maxPolls <= 0 {
		maxPolls = e.cfg.Service.MaxPolls
	}
	return watcher.New(source, store, watcher.Options{
		Interval:  e.cfg.Service.PollInterval(),
		MaxPolls:  maxPolls,
		Telemetry: e.tel,
	})
}

func printJSON(c *cli.Context, v any) error {
	enc := json.NewEncoder(c.App.Writer)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func serve(c *cli.Context) error {
	e, err := loadEnv(c, true)
	if err != nil {
		return err
	}
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	p, err := e.pool(ctx)
	if err != nil {
		return err
	}
	r, err := e.relayer()
	if err != nil {
		return err
	}
	store, closeStore, err := e.store(ctx)
	if err != nil {
		return err
	}
	defer closeStore()
	w, err := e.watcher(r, store, 0)
	if err != nil {
		return err
	}

	apiServer := server.NewServer(e.cfg, server.Deps{
		Pool:      p,
		Relayer:   r,
		Store:     store,
		Telemetry: e.tel,
		Watcher:   w,
	})

	go func() {
		if err := w.WatchPending(ctx); err != nil && !errors.Is(err, context.Canceled) {
			e.tel.Logger.Error("resuming pending jobs failed", "error", err)
		}
	}()

	errCh := make(chan error, 1)
	go func() {
		errCh <- apiServer.Start()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	e.tel.Logger.Info("shutting down")
	return apiServer.Shutdown(shutdownCtx)
}

func relayerInfo(c *cli.Context) error {
	e, err := loadEnv(c, false)
	if err != nil {
		return err
	}
	r, err := e.relayer()
	if err != nil {
		return err
	}
	info, err := r.Info(context.Background())
	if err != nil {
		return err
	}
	return printJSON(c, map[string]any{
		"root":                 numeral.FormatField(info.Root),
		"optimisticRoot":       numeral.FormatField(info.OptimisticRoot),
		"deltaIndex":           info.DeltaIndex,
		"optimisticDeltaIndex": info.OptimisticDeltaIndex,
	})
}

func fee(c *cli.Context) error {
	e, err := loadEnv(c, false)
	if err != nil {
		return err
	}
	ctx := context.Background()
	r, err := e.relayer()
	if err != nil {
		return err
	}
	relayerFee, err := r.Fee(ctx)
	if err != nil {
		return err
	}
	out := map[string]any{"relayerFee": relayerFee}

	if c.Bool(DirectDepositFee.Name) {
		p, err := e.pool(ctx)
		if err != nil {
			return err
		}
		address, err := pool.ParseAddress("direct deposit", e.cfg.Web3.DirectDepositAddress)
		if err != nil {
			return err
		}
		dd, err := pool.NewDirectDeposit(address, p.Contract().Backend(), p.Contract().Timeout())
		if err != nil {
			return err
		}
		ddFee, err := dd.Fee(ctx)
		if err != nil {
			return err
		}
		out["directDepositFee"] = ddFee
	}
	return printJSON(c, out)
}

func root(c *cli.Context) error {
	e, err := loadEnv(c, false)
	if err != nil {
		return err
	}
	ctx := context.Background()
	p, err := e.pool(ctx)
	if err != nil {
		return err
	}

	if raw := c.String(RootIndex.Name); raw != "" {
		index, err := numeral.ParseField(raw)
		if err != nil {
			return fmt.Errorf("--index: %w", err)
		}
		r, err := p.RootByIndex(ctx, index)
		if err != nil {
			return err
		}
		return printJSON(c, map[string]string{"index": raw, "root": numeral.FormatField(r)})
	}

	index, r, err := p.CurrentRoot(ctx)
	if err != nil {
		return err
	}
	poolID, err := p.PoolID(ctx)
	if err != nil {
		return err
	}
	return printJSON(c, map[string]string{
		"poolId": numeral.FormatField(poolID),
		"index":  index.Dec(),
		"root":   numeral.FormatField(r),
	})
}

func nullifier(c *cli.Context) error {
	raw := c.Args().First()
	if raw == "" {
		return cli.NewExitError("nullifier argument is required", 2)
	}
	n, err := numeral.ParseField(raw)
	if err != nil {
		return fmt.Errorf("nullifier: %w", err)
	}
	e, err := loadEnv(c, false)
	if err != nil {
		return err
	}
	ctx := context.Background()
	p, err := e.pool(ctx)
	if err != nil {
		return err
	}
	spent, err := p.NullifierExists(ctx, n)
	if err != nil {
		return err
	}
	return printJSON(c, map[string]any{"nullifier": numeral.FormatField(n), "spent": spent})
}

type eventOutput struct {
	Index       string `json:"index"`
	Hash        string `json:"hash"`
	Message     string `json:"message"`
	BlockNumber uint64 `json:"blockNumber"`
	LogIndex    uint   `json:"logIndex"`
	TxHash      string `json:"txHash"`
}

func events(c *cli.Context) error {
	e, err := loadEnv(c, false)
	if err != nil {
		return err
	}
	var f pool.EventFilter
	if from := c.Int64(FromBlock.Name); from >= 0 {
		f.FromBlock = big.NewInt(from)
	}
	if to := c.Int64(ToBlock.Name); to >= 0 {
		f.ToBlock = big.NewInt(to)
	}
	if raw := c.String(BlockHash.Name); raw != "" {
		h := common.HexToHash(raw)
		f.BlockHash = &h
	}

	ctx := context.Background()
	p, err := e.pool(ctx)
	if err != nil {
		return err
	}
	evs, err := p.Events(ctx, f)
	if err != nil {
		return err
	}
	out := make([]eventOutput, 0, len(evs))
	for _, ev := range evs {
		out = append(out, eventOutput{
			Index:       ev.Index.Dec(),
			Hash:        ev.Hash.Hex(),
			Message:     "0x" + hex.EncodeToString(ev.Payload),
			BlockNumber: ev.BlockNumber,
			LogIndex:    ev.LogIndex,
			TxHash:      ev.TxHash.Hex(),
		})
	}
	return printJSON(c, out)
}

func job(c *cli.Context) error {
	id := c.Args().First()
	if id == "" {
		return cli.NewExitError("job id argument is required", 2)
	}
	e, err := loadEnv(c, false)
	if err != nil {
		return err
	}
	r, err := e.relayer()
	if err != nil {
		return err
	}
	j, err := r.Job(context.Background(), id)
	if err != nil {
		return err
	}
	return printJSON(c, jobstore.FromJob(j, time.Now().UTC()))
}

func watch(c *cli.Context) error {
	id := c.Args().First()
	if id == "" {
		return cli.NewExitError("job id argument is required", 2)
	}
	e, err := loadEnv(c, false)
	if err != nil {
		return err
	}
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	r, err := e.relayer()
	if err != nil {
		return err
	}
	store, closeStore, err := e.store(ctx)
	if err != nil {
		return err
	}
	defer closeStore()
	w, err := e.watcher(r, store, c.Int(MaxPolls.Name))
	if err != nil {
		return err
	}
	j, err := w.Wait(ctx, id)
	if err != nil {
		return err
	}
	return printJSON(c, jobstore.FromJob(j, time.Now().UTC()))
}

func transact(c *cli.Context) error {
	data, err := hex.DecodeString(strings.TrimPrefix(c.String(TxData.Name), "0x"))
	if err != nil {
		return fmt.Errorf("--data: %w", err)
	}
	e, err := loadEnv(c, false)
	if err != nil {
		return err
	}
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	p, err := e.pool(ctx)
	if err != nil {
		return err
	}
	t, err := p.WithSigner(e.cfg.Web3.SecretKey, e.cfg.Web3.GasLimit)
	if err != nil {
		return err
	}
	hash, err := t.SendTransaction(ctx, data)
	if err != nil {
		return err
	}
	e.tel.Logger.Info("transact sent", "from", t.From().Hex(), "tx_hash", hash.Hex())
	if !c.Bool(WaitMined.Name) {
		return printJSON(c, map[string]string{"txHash": hash.Hex()})
	}
	receipt, err := t.WaitForReceipt(ctx, hash, e.cfg.Service.PollInterval())
	if err != nil {
		return err
	}
	return printJSON(c, map[string]any{
		"txHash":      hash.Hex(),
		"blockNumber": receipt.BlockNumber.Uint64(),
		"status":      receipt.Status,
		"gasUsed":     receipt.GasUsed,
	})
}
