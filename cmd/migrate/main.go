package main

import (
	"context"
	"fmt"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"nutri-auth/internal/domain"
	"nutri-auth/internal/profile"
	"nutri-auth/pkg/database"
)

// backend is the open profile store plus the handles needed for schema work
type backend struct {
	store profile.Store
	pg    *database.PostgresDB
	mongo *mongo.Client
	mdb   *mongo.Database
}

func (b *backend) close(ctx context.Context) {
	if b.pg != nil {
		b.pg.Close()
	}
	if b.mongo != nil {
		_ = b.mongo.Disconnect(ctx)
	}
}

func envOr(key, fallback string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return fallback
}

func main() {
	_ = godotenv.Load()

	var (
		kind     = envOr("PROFILE_BACKEND", "postgres")
		dbURL    = envOr("DATABASE_URL", "")
		mongoURI = envOr("MONGO_URI", "")
		mongoDB  = envOr("MONGO_DATABASE", "nutri")
		timeout  = 30 * time.Second
		b        *backend
		ctx      context.Context
		cancel   context.CancelFunc
	)

	root := &cobra.Command{
		Use:           "migrate",
		Short:         "Profile store schema and account administration",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel = context.WithTimeout(context.Background(), timeout)
			var err error
			b, err = open(ctx, kind, dbURL, mongoURI, mongoDB)
			return err
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			b.close(ctx)
			cancel()
		},
	}
	root.PersistentFlags().StringVar(&kind, "backend", kind, "profile backend: postgres or mongo (env PROFILE_BACKEND)")
	root.PersistentFlags().StringVar(&dbURL, "database-url", dbURL, "PostgreSQL URL (env DATABASE_URL)")
	root.PersistentFlags().StringVar(&mongoURI, "mongo-uri", mongoURI, "MongoDB URI (env MONGO_URI)")
	root.PersistentFlags().StringVar(&mongoDB, "mongo-database", mongoDB, "MongoDB database (env MONGO_DATABASE)")
	root.PersistentFlags().DurationVar(&timeout, "timeout", timeout, "overall command timeout")

	root.AddCommand(&cobra.Command{
		Use:   "up",
		Short: "Create the profile schema",
		RunE: func(cmd *cobra.Command, args []string) error {
			if b.pg != nil {
				if _, err := b.pg.Pool.Exec(ctx, profile.Schema); err != nil {
					return fmt.Errorf("failed to create profiles table: %w", err)
				}
			} else if err := b.store.(*profile.MongoStore).EnsureIndexes(ctx); err != nil {
				return err
			}
			fmt.Println("✅ Profile schema ready")
			return nil
		},
	})

	root.AddCommand(&cobra.Command{
		Use:   "drop",
		Short: "Drop the profile schema and every profile",
		RunE: func(cmd *cobra.Command, args []string) error {
			if b.pg != nil {
				if _, err := b.pg.Pool.Exec(ctx, profile.DropSchema); err != nil {
					return fmt.Errorf("failed to drop profiles table: %w", err)
				}
			} else if err := b.mdb.Collection("users").Drop(ctx); err != nil {
				return fmt.Errorf("failed to drop users collection: %w", err)
			}
			fmt.Println("✅ Profile schema dropped")
			return nil
		},
	})

	root.AddCommand(&cobra.Command{
		Use:   "seed-admin <identity> <email>",
		Short: "Create or replace an admin profile for an existing provider identity",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			email := domain.NormalizeEmail(args[1])
			if err := b.store.CreateProfile(ctx, args[0], email, domain.UserTypeAdmin, domain.ProfileExtra{}); err != nil {
				return err
			}
			fmt.Printf("✅ Admin profile created for %s\n", email)
			return nil
		},
	})

	root.AddCommand(&cobra.Command{
		Use:   "promote <identity> <user|expert|admin>",
		Short: "Change the user type of an existing profile",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			userType := domain.ParseUserType(args[1])
			if !userType.Known() {
				return fmt.Errorf("unknown user type %q", args[1])
			}
			if err := b.store.SetUserType(ctx, args[0], userType); err != nil {
				return err
			}
			fmt.Printf("✅ %s is now %s\n", args[0], userType)
			return nil
		},
	})

	var listLimit int
	list := &cobra.Command{
		Use:   "list <user|expert|admin>",
		Short: "List profiles of one user type, newest first",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			userType := domain.ParseUserType(args[0])
			if !userType.Known() {
				return fmt.Errorf("unknown user type %q", args[0])
			}
			profiles, err := b.store.ListByType(ctx, userType, listLimit)
			if err != nil {
				return err
			}
			tw := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "IDENTITY\tEMAIL\tCOMMERCE ID\tCREATED")
			for _, p := range profiles {
				fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", p.Identity, p.Email, p.CommerceCustomerID, p.CreatedAt.Format(time.RFC3339))
			}
			return tw.Flush()
		},
	}
	list.Flags().IntVar(&listLimit, "limit", 50, "maximum rows")
	root.AddCommand(list)

	if err := root.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "❌ %v\n", err)
		os.Exit(1)
	}
}

// open connects the profile backend named by kind
func open(ctx context.Context, kind, dbURL, mongoURI, mongoDB string) (*backend, error) {
	switch strings.ToLower(kind) {
	case "postgres":
		db, err := database.NewPostgresDB(ctx, dbURL,
			database.WithMaxConns(2),
			database.WithConnectTimeout(10*time.Second),
			database.WithApplicationName("nutri-auth-migrate"))
		if err != nil {
			return nil, err
		}
		return &backend{store: profile.NewPostgresStore(db), pg: db}, nil
	case "mongo":
		if mongoURI == "" {
			return nil, fmt.Errorf("MONGO_URI environment variable is required")
		}
		client, err := mongo.Connect(ctx, options.Client().ApplyURI(mongoURI))
		if err != nil {
			return nil, fmt.Errorf("failed to connect to MongoDB: %w", err)
		}
		mdb := client.Database(mongoDB)
		return &backend{store: profile.NewMongoStore(mdb), mongo: client, mdb: mdb}, nil
	default:
		return nil, fmt.Errorf("unknown backend %q", kind)
	}
}
