package cmd

import (
	"context"
	"crypto/tls"
	"crypto/x509/pkix"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/spf13/cobra"

	"github.com/maritimelab/seatrust/api"
	"github.com/maritimelab/seatrust/directory"
	"github.com/maritimelab/seatrust/keys"
	"github.com/maritimelab/seatrust/lifecycle"
	"github.com/maritimelab/seatrust/registry"
	"github.com/maritimelab/seatrust/signature"
	"github.com/maritimelab/seatrust/storage"
	bboltstorage "github.com/maritimelab/seatrust/storage/bbolt"
	memorystorage "github.com/maritimelab/seatrust/storage/memory"
	postgresstorage "github.com/maritimelab/seatrust/storage/postgres"
	"github.com/maritimelab/seatrust/truststore"
)

var (
	port        int
	backend     string
	dataDir     string
	postgresDSN string

	orgMRN    string
	mrnPrefix string

	trustPath     string
	trustPassword string

	registryURL  string
	registryCert string
	registryKey  string

	tlsCert string
	tlsKey  string

	curve     string
	algorithm string
	rootAlias string
)

var serverCmd = &cobra.Command{
	Use:   "server",
	Short: "Start the certificate service server",
	RunE: func(cmd *cobra.Command, args []string) error {
		trust, err := loadTrustStore()
		if err != nil {
			return err
		}

		repo, closeRepo, err := openRepository(cmd.Context())
		if err != nil {
			return err
		}
		defer closeRepo()

		dir := directory.New(repo, mrnPrefix)

		reg, err := buildRegistryClient(trust)
		if err != nil {
			return err
		}

		lc := lifecycle.New(repo, dir, reg,
			lifecycle.WithCurve(curve),
			lifecycle.WithAlgorithm(algorithm),
		)

		sig := signature.New(dir, lc, trust,
			signature.WithRootAlias(rootAlias),
			signature.WithDefaultAlgorithm(algorithm),
		)

		a := api.New(dir, lc, sig, trust)

		r := chi.NewRouter()
		r.Use(middleware.Logger)
		r.Use(middleware.Recoverer)

		r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
			w.Write([]byte("OK"))
		})

		r.Mount("/api/v1", a.Router())

		tlsConfig, err := serverTLSConfig()
		if err != nil {
			return err
		}

		server := &http.Server{
			Addr:              fmt.Sprintf(":%d", port),
			Handler:           r,
			TLSConfig:         tlsConfig,
			ReadHeaderTimeout: 10 * time.Second,
			ReadTimeout:       15 * time.Second,
			WriteTimeout:      30 * time.Second,
			IdleTimeout:       60 * time.Second,
		}

		// Graceful shutdown on SIGINT/SIGTERM.
		done := make(chan error, 1)
		go func() {
			if err := server.ListenAndServeTLS("", ""); err != nil && !errors.Is(err, http.ErrServerClosed) {
				done <- fmt.Errorf("server failed: %w", err)
				return
			}
			done <- nil
		}()

		printBanner()
		fmt.Printf("Starting server on port %d (storage: %s)...\n", port, backend)

		quit := make(chan os.Signal, 1)
		signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

		select {
		case sig := <-quit:
			fmt.Printf("\nReceived %s, shutting down...\n", sig)
			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			if err := server.Shutdown(ctx); err != nil {
				return fmt.Errorf("server shutdown failed: %w", err)
			}
			return nil
		case err := <-done:
			return err
		}
	},
}

func loadTrustStore() (*truststore.Store, error) {
	if trustPath == "" {
		return nil, errors.New("a trust store is required: set --trust-store")
	}
	var (
		trust *truststore.Store
		err   error
	)
	switch {
	case strings.HasSuffix(trustPath, ".p12"), strings.HasSuffix(trustPath, ".pfx"):
		password := trustPassword
		if password == "" {
			password = os.Getenv("SEATRUST_TRUST_PASSWORD")
		}
		trust, err = truststore.LoadPKCS12(trustPath, password)
	default:
		trust, err = truststore.LoadPEMBundle(trustPath)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load trust store: %w", err)
	}
	return trust, nil
}

func openRepository(ctx context.Context) (storage.Repository, func() error, error) {
	switch backend {
	case "memory":
		return memorystorage.NewRepository(), func() error { return nil }, nil
	case "bbolt":
		if err := os.MkdirAll(dataDir, 0o700); err != nil {
			return nil, nil, fmt.Errorf("failed to create data directory: %w", err)
		}
		repo, err := bboltstorage.NewRepositoryFromFile(dataDir+"/seatrust.db", nil)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to open bbolt storage: %w", err)
		}
		return repo, repo.Close, nil
	case "postgres":
		if postgresDSN == "" {
			postgresDSN = os.Getenv("SEATRUST_POSTGRES_DSN")
		}
		repo, err := postgresstorage.NewRepositoryFromDSN(ctx, postgresDSN)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to open postgres storage: %w", err)
		}
		return repo, func() error { repo.Close(); return nil }, nil
	default:
		return nil, nil, fmt.Errorf("unknown storage backend %q", backend)
	}
}

func buildRegistryClient(trust *truststore.Store) (*registry.Client, error) {
	if registryCert != "" && registryKey != "" {
		reg, err := registry.NewMutualTLS(registryURL, orgMRN, registryCert, registryKey, trust.Pool())
		if err != nil {
			return nil, fmt.Errorf("failed to build registry client: %w", err)
		}
		return reg, nil
	}
	return registry.New(registryURL, orgMRN), nil
}

func serverTLSConfig() (*tls.Config, error) {
	if tlsCert != "" && tlsKey != "" {
		cert, err := tls.LoadX509KeyPair(tlsCert, tlsKey)
		if err != nil {
			return nil, fmt.Errorf("failed to load TLS key pair: %w", err)
		}
		return &tls.Config{
			Certificates: []tls.Certificate{cert},
			MinVersion:   tls.VersionTLS12,
		}, nil
	}
	cert, err := selfSignedCert()
	if err != nil {
		return nil, fmt.Errorf("failed to generate self-signed certificate: %w", err)
	}
	fmt.Println("Using self-signed runtime generated certificate for TLS")
	return &tls.Config{
		Certificates: []tls.Certificate{cert},
		MinVersion:   tls.VersionTLS12,
	}, nil
}

func selfSignedCert() (tls.Certificate, error) {
	kp, err := keys.GenerateKeyPair("")
	if err != nil {
		return tls.Certificate{}, err
	}
	now := time.Now()
	certPEM, err := keys.GenerateSelfSignedCertificate(kp,
		pkix.Name{CommonName: "seatrust"}, now, now.AddDate(1, 0, 0), "")
	if err != nil {
		return tls.Certificate{}, err
	}
	keyPEM, err := keys.EncodePrivateKeyPEM(kp.Private)
	if err != nil {
		return tls.Certificate{}, err
	}
	return tls.X509KeyPair([]byte(certPEM), []byte(keyPEM))
}

func init() {
	rootCmd.AddCommand(serverCmd)
	serverCmd.Flags().IntVarP(&port, "port", "p", 8443, "Port to listen on")
	serverCmd.Flags().StringVar(&backend, "storage", "bbolt", "Storage backend: memory, bbolt or postgres")
	serverCmd.Flags().StringVar(&dataDir, "data-dir", "./data", "Directory for persistent data (bbolt)")
	serverCmd.Flags().StringVar(&postgresDSN, "postgres-dsn", "", "Postgres connection string (or SEATRUST_POSTGRES_DSN)")
	serverCmd.Flags().StringVar(&orgMRN, "org-mrn", "", "Organisation MRN registered with the identity registry")
	serverCmd.Flags().StringVar(&mrnPrefix, "mrn-prefix", "urn:mrn:mcp:entity", "Prefix for derived entity MRNs")
	serverCmd.Flags().StringVar(&trustPath, "trust-store", "", "Trust anchors: PEM bundle or PKCS#12 keystore")
	serverCmd.Flags().StringVar(&trustPassword, "trust-password", "", "PKCS#12 password (or SEATRUST_TRUST_PASSWORD)")
	serverCmd.Flags().StringVar(&registryURL, "registry-url", "", "Base URL of the identity registry")
	serverCmd.Flags().StringVar(&registryCert, "registry-cert", "", "Client certificate for registry mutual TLS")
	serverCmd.Flags().StringVar(&registryKey, "registry-key", "", "Client key for registry mutual TLS")
	serverCmd.Flags().StringVar(&tlsCert, "tls-cert", "", "Path to TLS certificate file")
	serverCmd.Flags().StringVar(&tlsKey, "tls-key", "", "Path to TLS key file")
	serverCmd.Flags().StringVar(&curve, "curve", keys.DefaultCurve, "Elliptic curve for generated key pairs")
	serverCmd.Flags().StringVar(&algorithm, "algorithm", keys.DefaultAlgorithm, "Default signature algorithm")
	serverCmd.Flags().StringVar(&rootAlias, "root-alias", "", "Trust anchor alias for published thumbprints")
}
