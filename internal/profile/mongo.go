package profile

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"nutri-auth/internal/domain"
	apperrors "nutri-auth/pkg/errors"
)

const mongoOpTimeout = 5 * time.Second

// MongoStore keeps profiles in a "users" collection with _id = identity
type MongoStore struct {
	c *mongo.Collection
}

// NewMongoStore creates a profile store on db
func NewMongoStore(db *mongo.Database) *MongoStore {
	return &MongoStore{c: db.Collection("users")}
}

// EnsureIndexes creates the email and userType indexes
func (s *MongoStore) EnsureIndexes(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, mongoOpTimeout)
	defer cancel()

	_, err := s.c.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{Keys: bson.D{{Key: "email", Value: 1}}},
		{Keys: bson.D{{Key: "userType", Value: 1}, {Key: "createdAt", Value: -1}}},
	})
	if err != nil {
		return fmt.Errorf("failed to create profile indexes: %w", err)
	}
	return nil
}

// GetUserType reads only the userType field of the record
func (s *MongoStore) GetUserType(ctx context.Context, identity string) (domain.UserType, bool, error) {
	ctx, cancel := context.WithTimeout(ctx, mongoOpTimeout)
	defer cancel()

	var doc struct {
		UserType string `bson:"userType"`
	}
	opts := options.FindOne().SetProjection(bson.M{"userType": 1})
	err := s.c.FindOne(ctx, bson.M{"_id": identity}, opts).Decode(&doc)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return domain.UserTypeUnknown, false, nil
		}
		return domain.UserTypeUnknown, false, apperrors.NewStoreUnavailableError(fmt.Errorf("failed to get user type: %w", err))
	}
	return domain.ParseUserType(doc.UserType), true, nil
}

// CreateProfile upserts the record for identity
func (s *MongoStore) CreateProfile(ctx context.Context, identity, email string, userType domain.UserType, extra domain.ProfileExtra) error {
	ctx, cancel := context.WithTimeout(ctx, mongoOpTimeout)
	defer cancel()

	now := time.Now().UTC()
	set := bson.M{
		"email":       domain.NormalizeEmail(email),
		"userType":    string(userType),
		"firstName":   extra.FirstName,
		"lastName":    extra.LastName,
		"autoCreated": extra.AutoCreated,
		"updatedAt":   now,
	}
	if extra.CommerceCustomerID != "" {
		set["commerceCustomerId"] = extra.CommerceCustomerID
	}
	if extra.CommerceLinked || extra.CommerceCustomerID != "" {
		set["commerceLinked"] = true
	}

	update := bson.M{
		"$set":         set,
		"$setOnInsert": bson.M{"createdAt": now},
	}
	_, err := s.c.UpdateOne(ctx, bson.M{"_id": identity}, update, options.Update().SetUpsert(true))
	if err != nil {
		return apperrors.NewStoreUnavailableError(fmt.Errorf("failed to create profile: %w", err))
	}
	return nil
}

// LinkCommerceIdentity merges the commerce fields into an existing record
func (s *MongoStore) LinkCommerceIdentity(ctx context.Context, identity, customerID string) error {
	ctx, cancel := context.WithTimeout(ctx, mongoOpTimeout)
	defer cancel()

	res, err := s.c.UpdateOne(ctx, bson.M{"_id": identity}, bson.M{"$set": bson.M{
		"commerceCustomerId": customerID,
		"commerceLinked":     true,
		"updatedAt":          time.Now().UTC(),
	}})
	if err != nil {
		return apperrors.NewStoreUnavailableError(fmt.Errorf("failed to link commerce identity: %w", err))
	}
	if res.MatchedCount == 0 {
		return apperrors.NewNotFoundError("Profile not found")
	}
	return nil
}

// FindByEmail returns the most recently updated record for email
func (s *MongoStore) FindByEmail(ctx context.Context, email string) (*domain.Profile, error) {
	ctx, cancel := context.WithTimeout(ctx, mongoOpTimeout)
	defer cancel()

	var p domain.Profile
	opts := options.FindOne().SetSort(bson.D{{Key: "updatedAt", Value: -1}})
	err := s.c.FindOne(ctx, bson.M{"email": domain.NormalizeEmail(email)}, opts).Decode(&p)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, nil
		}
		return nil, apperrors.NewStoreUnavailableError(fmt.Errorf("failed to find profile by email: %w", err))
	}
	p.UserType = domain.ParseUserType(string(p.UserType))
	return &p, nil
}

// ListByType lists records of one type, newest first
func (s *MongoStore) ListByType(ctx context.Context, userType domain.UserType, limit int) ([]domain.Profile, error) {
	ctx, cancel := context.WithTimeout(ctx, mongoOpTimeout)
	defer cancel()

	opts := options.Find().
		SetSort(bson.D{{Key: "createdAt", Value: -1}}).
		SetLimit(int64(clampLimit(limit)))
	cur, err := s.c.Find(ctx, bson.M{"userType": string(userType)}, opts)
	if err != nil {
		return nil, apperrors.NewStoreUnavailableError(fmt.Errorf("failed to list profiles: %w", err))
	}
	defer cur.Close(ctx)

	var profiles []domain.Profile
	if err := cur.All(ctx, &profiles); err != nil {
		return nil, apperrors.NewStoreUnavailableError(fmt.Errorf("failed to decode profiles: %w", err))
	}
	return profiles, nil
}

// SetUserType changes the type of an existing record
func (s *MongoStore) SetUserType(ctx context.Context, identity string, userType domain.UserType) error {
	ctx, cancel := context.WithTimeout(ctx, mongoOpTimeout)
	defer cancel()

	res, err := s.c.UpdateOne(ctx, bson.M{"_id": identity}, bson.M{"$set": bson.M{
		"userType":  string(userType),
		"updatedAt": time.Now().UTC(),
	}})
	if err != nil {
		return apperrors.NewStoreUnavailableError(fmt.Errorf("failed to set user type: %w", err))
	}
	if res.MatchedCount == 0 {
		return apperrors.NewNotFoundError("Profile not found")
	}
	return nil
}

// Reassign writes the record under toIdentity, then removes the old one. The
// new record is written first so a failure in between leaves a duplicate, never a gap.
func (s *MongoStore) Reassign(ctx context.Context, fromIdentity, toIdentity string) error {
	ctx, cancel := context.WithTimeout(ctx, mongoOpTimeout)
	defer cancel()

	var p domain.Profile
	if err := s.c.FindOne(ctx, bson.M{"_id": fromIdentity}).Decode(&p); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return apperrors.NewNotFoundError("Profile not found")
		}
		return apperrors.NewStoreUnavailableError(fmt.Errorf("failed to read profile: %w", err))
	}

	p.Identity = toIdentity
	p.PreviousIdentity = fromIdentity
	p.UpdatedAt = time.Now().UTC()

	_, err := s.c.ReplaceOne(ctx, bson.M{"_id": toIdentity}, p, options.Replace().SetUpsert(true))
	if err != nil {
		return apperrors.NewStoreUnavailableError(fmt.Errorf("failed to write reassigned profile: %w", err))
	}
	if _, err := s.c.DeleteOne(ctx, bson.M{"_id": fromIdentity}); err != nil {
		return apperrors.NewStoreUnavailableError(fmt.Errorf("failed to remove old profile: %w", err))
	}
	return nil
}
