package main

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/urfave/cli"

	"github.com/mundrapranay/oblivkv/internal/crypto"
	"github.com/mundrapranay/oblivkv/pkg/client"
)

const requestTimeout = 30 * time.Second

func connect(c *cli.Context) (*metadata, *client.Client, error) {
	m := c.App.Metadata["config"].(*metadata)
	cl, err := client.NewClient(m.proxy)
	if err != nil {
		return nil, nil, err
	}
	if m.verbose {
		fmt.Fprintf(m.e, "proxy: %s\n", m.proxy)
	}
	return m, cl, nil
}

func runGet(c *cli.Context) error {
	if c.NArg() != 1 {
		return fmt.Errorf("expected KEY")
	}
	m, cl, err := connect(c)
	if err != nil {
		return err
	}
	defer cl.Close()

	ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
	defer cancel()

	value, found, err := cl.Get(ctx, c.Args().First())
	if err != nil {
		return err
	}
	out := struct {
		Key   string `json:"key"`
		Found bool   `json:"found"`
		Value string `json:"value,omitempty"`
	}{
		Key:   c.Args().First(),
		Found: found,
		Value: string(value),
	}
	return printJson(m.w, out)
}

func runPut(c *cli.Context) error {
	if c.NArg() != 2 {
		return fmt.Errorf("expected KEY VALUE")
	}
	m, cl, err := connect(c)
	if err != nil {
		return err
	}
	defer cl.Close()

	ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
	defer cancel()

	if err := cl.Put(ctx, c.Args().Get(0), []byte(c.Args().Get(1))); err != nil {
		return err
	}
	if m.verbose {
		fmt.Fprintf(m.e, "wrote %s\n", c.Args().Get(0))
	}
	return nil
}

func runBatch(c *cli.Context) error {
	m, cl, err := connect(c)
	if err != nil {
		return err
	}
	defer cl.Close()

	var in io.Reader = os.Stdin
	if name := c.String("file"); name != "-" {
		f, err := os.Open(name)
		if err != nil {
			return err
		}
		defer f.Close()
		in = f
	}

	var ops []client.Op
	if err := json.NewDecoder(in).Decode(&ops); err != nil {
		return fmt.Errorf("invalid batch: %w", err)
	}
	if m.verbose {
		fmt.Fprintf(m.e, "sending %d operations\n", len(ops))
	}

	ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
	defer cancel()

	out, err := cl.Batch(ctx, ops)
	if err != nil {
		return err
	}
	return printJson(m.w, out)
}

func runHealth(c *cli.Context) error {
	m, cl, err := connect(c)
	if err != nil {
		return err
	}
	defer cl.Close()

	ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
	defer cancel()

	stats, err := cl.Health(ctx)
	if err != nil {
		return err
	}
	return printJson(m.w, stats)
}

func runSecret(c *cli.Context) error {
	m := c.App.Metadata["config"].(*metadata)
	n := c.Int("bytes")
	if n < crypto.MinSecretSize {
		return fmt.Errorf("secret must be at least %d bytes, got %d", crypto.MinSecretSize, n)
	}
	secret := make([]byte, n)
	if _, err := rand.Read(secret); err != nil {
		return err
	}
	fmt.Fprintln(m.w, hex.EncodeToString(secret))
	return nil
}

func printJson(w io.Writer, message interface{}) error {
	b, err := json.MarshalIndent(message, "", "  ")
	if err != nil {
		return err
	}
	fmt.Fprintf(w, "%s\n", b)
	return nil
}
