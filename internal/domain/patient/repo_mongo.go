package patient

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// CollectionName is the Mongo collection holding patient records.
const CollectionName = "patients"

// Mongo server error codes.
const (
	codeNamespaceNotFound         = 26
	codeNamespaceExists           = 48
	codeDocumentValidationFailure = 121
)

// patientDoc is the stored shape of a record. DateOfEntry is decoded loosely
// because records written by the legacy client hold it as a string.
type patientDoc struct {
	ID             primitive.ObjectID `bson:"_id,omitempty"`
	FirstName      string             `bson:"firstName"`
	LastName       string             `bson:"lastName,omitempty"`
	Contacts       string             `bson:"contacts,omitempty"`
	Age            *float64           `bson:"age,omitempty"`
	DateOfEntry    interface{}        `bson:"dateOfentry,omitempty"`
	MedicalHistory []string           `bson:"medicalHistory"`
	DoctorName     string             `bson:"doctorName,omitempty"`
	CreatedAt      time.Time          `bson:"createdAt"`
	UpdatedAt      time.Time          `bson:"updatedAt"`
}

func toDoc(p *Patient) *patientDoc {
	d := &patientDoc{
		FirstName:      p.FirstName,
		LastName:       p.LastName,
		Contacts:       p.Contacts,
		Age:            p.Age,
		MedicalHistory: p.MedicalHistory,
		DoctorName:     p.DoctorName,
		CreatedAt:      p.CreatedAt.UTC(),
		UpdatedAt:      p.UpdatedAt.UTC(),
	}
	if d.MedicalHistory == nil {
		d.MedicalHistory = []string{}
	}
	if p.DateOfEntry != nil && !p.DateOfEntry.IsZero() {
		d.DateOfEntry = p.DateOfEntry.UTC()
	}
	return d
}

func (d *patientDoc) toPatient() *Patient {
	p := &Patient{
		ID:             d.ID.Hex(),
		FirstName:      d.FirstName,
		LastName:       d.LastName,
		Contacts:       d.Contacts,
		Age:            d.Age,
		MedicalHistory: d.MedicalHistory,
		DoctorName:     d.DoctorName,
		CreatedAt:      d.CreatedAt,
		UpdatedAt:      d.UpdatedAt,
	}
	if p.MedicalHistory == nil {
		p.MedicalHistory = []string{}
	}
	p.DateOfEntry = decodeEntryDate(d.DateOfEntry)
	return p
}

// decodeEntryDate accepts a BSON datetime or a legacy string date. Values it
// cannot read are dropped rather than failing the whole read.
func decodeEntryDate(v interface{}) *Date {
	switch t := v.(type) {
	case primitive.DateTime:
		return &Date{Time: t.Time().UTC()}
	case time.Time:
		return &Date{Time: t.UTC()}
	case string:
		d, err := ParseDate(t)
		if err != nil || d.IsZero() {
			return nil
		}
		return &d
	}
	return nil
}

// patientSchema mirrors Patient.Validate as a server-side $jsonSchema.
func patientSchema() bson.M {
	return bson.M{
		"$jsonSchema": bson.M{
			"bsonType": "object",
			"required": bson.A{"firstName"},
			"properties": bson.M{
				"firstName":  bson.M{"bsonType": "string", "minLength": 1},
				"lastName":   bson.M{"bsonType": "string"},
				"contacts":   bson.M{"bsonType": "string", "minLength": ContactsLength, "maxLength": ContactsLength},
				"age":        bson.M{"bsonType": "number", "maximum": MaxAge},
				"doctorName": bson.M{"bsonType": "string"},
				"medicalHistory": bson.M{
					"bsonType": "array",
					"items":    bson.M{"bsonType": "string"},
				},
			},
		},
	}
}

type patientRepoMongo struct {
	coll *mongo.Collection
	db   *mongo.Database
}

func NewPatientRepoMongo(database *mongo.Database) PatientRepository {
	return &patientRepoMongo{db: database, coll: database.Collection(CollectionName)}
}

func (r *patientRepoMongo) Create(ctx context.Context, p *Patient) error {
	res, err := r.coll.InsertOne(ctx, toDoc(p))
	if err != nil {
		return mongoWriteError("insert patient", err)
	}
	oid, ok := res.InsertedID.(primitive.ObjectID)
	if !ok {
		return fmt.Errorf("insert patient: unexpected id type %T", res.InsertedID)
	}
	p.ID = oid.Hex()
	return nil
}

func (r *patientRepoMongo) GetByID(ctx context.Context, id string) (*Patient, error) {
	oid, err := primitive.ObjectIDFromHex(id)
	if err != nil {
		return nil, ErrNotFound
	}
	var d patientDoc
	if err := r.coll.FindOne(ctx, bson.D{{Key: "_id", Value: oid}}).Decode(&d); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get patient: %w", err)
	}
	return d.toPatient(), nil
}

func (r *patientRepoMongo) Update(ctx context.Context, p *Patient) error {
	oid, err := primitive.ObjectIDFromHex(p.ID)
	if err != nil {
		return ErrNotFound
	}
	res, err := r.coll.ReplaceOne(ctx, bson.D{{Key: "_id", Value: oid}}, toDoc(p))
	if err != nil {
		return mongoWriteError("update patient", err)
	}
	if res.MatchedCount == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *patientRepoMongo) Delete(ctx context.Context, id string) (*Patient, error) {
	oid, err := primitive.ObjectIDFromHex(id)
	if err != nil {
		return nil, ErrNotFound
	}
	var d patientDoc
	if err := r.coll.FindOneAndDelete(ctx, bson.D{{Key: "_id", Value: oid}}).Decode(&d); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("delete patient: %w", err)
	}
	return d.toPatient(), nil
}

func (r *patientRepoMongo) List(ctx context.Context) ([]*Patient, error) {
	return r.find(ctx, bson.D{})
}

func (r *patientRepoMongo) Search(ctx context.Context, filter SearchFilter) ([]*Patient, error) {
	if filter.Field != FieldFirstName && filter.Field != FieldDoctorName {
		return nil, fmt.Errorf("search patients: unsupported field %q", filter.Field)
	}
	return r.find(ctx, bson.D{{Key: filter.Field, Value: filter.Value}})
}

func (r *patientRepoMongo) find(ctx context.Context, filter bson.D) ([]*Patient, error) {
	opts := options.Find().SetSort(bson.D{{Key: "_id", Value: 1}})
	cur, err := r.coll.Find(ctx, filter, opts)
	if err != nil {
		return nil, fmt.Errorf("find patients: %w", err)
	}
	var docs []patientDoc
	if err := cur.All(ctx, &docs); err != nil {
		return nil, fmt.Errorf("decode patients: %w", err)
	}
	items := make([]*Patient, 0, len(docs))
	for i := range docs {
		items = append(items, docs[i].toPatient())
	}
	return items, nil
}

// EnsureSchema attaches the validator to an existing collection, or creates the
// collection with it, then builds the search indexes. The moderate
// validation level leaves legacy documents readable and only checks them when
// they are next written.
func (r *patientRepoMongo) EnsureSchema(ctx context.Context) error {
	err := r.db.RunCommand(ctx, bson.D{
		{Key: "collMod", Value: CollectionName},
		{Key: "validator", Value: patientSchema()},
		{Key: "validationLevel", Value: "moderate"},
	}).Err()
	if err != nil {
		if !hasServerCode(err, codeNamespaceNotFound) {
			return fmt.Errorf("set patients validator: %w", err)
		}
		opts := options.CreateCollection().
			SetValidator(patientSchema()).
			SetValidationLevel("moderate")
		if err := r.db.CreateCollection(ctx, CollectionName, opts); err != nil && !hasServerCode(err, codeNamespaceExists) {
			return fmt.Errorf("create patients collection: %w", err)
		}
	}

	_, err = r.coll.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{Keys: bson.D{{Key: FieldFirstName, Value: 1}}, Options: options.Index().SetName("firstName_1")},
		{Keys: bson.D{{Key: FieldDoctorName, Value: 1}}, Options: options.Index().SetName("doctorName_1")},
	})
	if err != nil {
		return fmt.Errorf("create patients indexes: %w", err)
	}
	return nil
}

func hasServerCode(err error, code int) bool {
	var se mongo.ServerError
	return errors.As(err, &se) && se.HasErrorCode(code)
}

// mongoWriteError turns a validator rejection into a *ValidationError and wraps
// anything else.
func mongoWriteError(op string, err error) error {
	if hasServerCode(err, codeDocumentValidationFailure) {
		return &ValidationError{Fields: map[string]string{"record": "rejected by the store schema"}}
	}
	return fmt.Errorf("%s: %w", op, err)
}
