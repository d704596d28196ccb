// Package main provides edr-auditctl, an operator CLI for the audit
// hash chain: verify its integrity independently of a running agent,
// or export it to the spec's {export_timestamp, entry_count,
// chain_valid, entries} JSON shape for offline re-verification and
// compliance evidence. Subcommand dispatch is grounded on the teacher's
// cmd/siem-rules/main.go manual os.Args[1] switch.
package main

import (
	"bytes"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"time"

	"edr-agent/internal/audit"
	"edr-agent/internal/config"
	"edr-agent/internal/store"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

var version = "dev"

// exportDocument is spec.md §6's audit export format verbatim.
type exportDocument struct {
	ExportTimestamp string        `json:"export_timestamp"`
	EntryCount      int           `json:"entry_count"`
	ChainValid      bool          `json:"chain_valid"`
	Entries         []audit.Entry `json:"entries"`
}

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	switch os.Args[1] {
	case "verify":
		os.Exit(runVerify(os.Args[2:]))
	case "export":
		os.Exit(runExport(os.Args[2:]))
	case "-version", "--version", "-v":
		fmt.Printf("edr-auditctl %s\n", version)
	default:
		fmt.Fprintf(os.Stderr, "Unknown subcommand: %s\n", os.Args[1])
		printUsage()
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Fprintf(os.Stderr, "Usage: edr-auditctl <command> [flags]\n\n")
	fmt.Fprintf(os.Stderr, "Commands:\n")
	fmt.Fprintf(os.Stderr, "  verify  Walk the audit chain and report whether it is intact\n")
	fmt.Fprintf(os.Stderr, "  export  Export the audit chain as a JSON evidence document\n\n")
	fmt.Fprintf(os.Stderr, "Flags:\n")
	fmt.Fprintf(os.Stderr, "  -version  Show version and exit\n")
}

func runVerify(args []string) int {
	fs := flag.NewFlagSet("verify", flag.ExitOnError)
	configPath := fs.String("config", "/etc/edr-agent/config.yaml", "path to config.yaml")
	fs.Parse(args)

	logger, st, err := openAuditLogger(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "edr-auditctl: %v\n", err)
		return 1
	}
	defer st.Close()

	count, err := st.AuditEntryCount()
	if err != nil {
		fmt.Fprintf(os.Stderr, "edr-auditctl: counting entries: %v\n", err)
		return 1
	}

	if err := logger.VerifyIntegrity(); err != nil {
		fmt.Printf("FAIL  chain verification failed after %d entries: %v\n", count, err)
		return 1
	}
	fmt.Printf("OK    %d entries verify\n", count)
	return 0
}

func runExport(args []string) int {
	fs := flag.NewFlagSet("export", flag.ExitOnError)
	configPath := fs.String("config", "/etc/edr-agent/config.yaml", "path to config.yaml")
	outPath := fs.String("out", "", "write export to this path instead of stdout")
	immutable := fs.Bool("immutable", false, "chattr +i the exported file once written (requires -out)")
	s3Bucket := fs.String("s3-bucket", "", "also upload the export to this S3 bucket")
	s3Prefix := fs.String("s3-prefix", "audit-exports/", "key prefix for the S3 upload")
	s3Region := fs.String("s3-region", "us-east-1", "AWS region for the S3 upload")
	fs.Parse(args)

	logger, st, err := openAuditLogger(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "edr-auditctl: %v\n", err)
		return 1
	}
	defer st.Close()

	entries, err := st.QueryAuditEntriesRaw(0, false)
	if err != nil {
		fmt.Fprintf(os.Stderr, "edr-auditctl: querying entries: %v\n", err)
		return 1
	}

	chainValid := logger.VerifyIntegrity() == nil

	doc := exportDocument{
		ExportTimestamp: time.Now().UTC().Format(time.RFC3339),
		EntryCount:      len(entries),
		ChainValid:      chainValid,
		Entries:         entries,
	}

	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		fmt.Fprintf(os.Stderr, "edr-auditctl: marshal export: %v\n", err)
		return 1
	}

	if *outPath == "" {
		fmt.Println(string(data))
	} else {
		if err := os.WriteFile(*outPath, data, 0644); err != nil {
			fmt.Fprintf(os.Stderr, "edr-auditctl: writing %s: %v\n", *outPath, err)
			return 1
		}
		fmt.Printf("wrote %s (%d entries, chain_valid=%t)\n", *outPath, len(entries), chainValid)

		if *immutable {
			guard, err := audit.NewImmutableGuard(nil)
			if err != nil {
				fmt.Fprintf(os.Stderr, "edr-auditctl: immutable guard unavailable: %v\n", err)
			} else if err := guard.SetImmutable(*outPath); err != nil {
				fmt.Fprintf(os.Stderr, "edr-auditctl: setting immutable attribute: %v\n", err)
			} else {
				fmt.Printf("marked %s immutable\n", *outPath)
			}
		}
	}

	if *s3Bucket != "" {
		if err := uploadExport(*s3Bucket, *s3Prefix, *s3Region, data); err != nil {
			fmt.Fprintf(os.Stderr, "edr-auditctl: s3 upload: %v\n", err)
			return 1
		}
		fmt.Printf("uploaded export to s3://%s/%s\n", *s3Bucket, *s3Prefix)
	}

	if !chainValid {
		return 1
	}
	return 0
}

func openAuditLogger(configPath string) (*audit.Logger, *store.Store, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, nil, fmt.Errorf("loading config: %w", err)
	}

	hmacKey, err := cfg.HMACKey()
	if err != nil {
		return nil, nil, fmt.Errorf("resolving audit HMAC key: %w", err)
	}

	st, err := store.Open(cfg.Store.Path, nil)
	if err != nil {
		return nil, nil, fmt.Errorf("opening store: %w", err)
	}

	logger, err := audit.NewLogger(st, hmacKey, nil)
	if err != nil {
		st.Close()
		return nil, nil, fmt.Errorf("constructing audit logger: %w", err)
	}

	return logger, st, nil
}

func uploadExport(bucket, prefix, region string, data []byte) error {
	ctx := context.Background()

	var opts []func(*awsconfig.LoadOptions) error
	opts = append(opts, awsconfig.WithRegion(region))
	if accessKey := os.Getenv("EDR_S3_ACCESS_KEY"); accessKey != "" {
		secretKey := os.Getenv("EDR_S3_SECRET_KEY")
		creds := credentials.NewStaticCredentialsProvider(accessKey, secretKey, "")
		opts = append(opts, awsconfig.WithCredentialsProvider(creds))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return fmt.Errorf("loading aws config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg)
	key := fmt.Sprintf("%s%s.json", prefix, time.Now().UTC().Format("20060102T150405Z"))

	_, err = client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(data),
		ContentType: aws.String("application/json"),
	})
	return err
}
