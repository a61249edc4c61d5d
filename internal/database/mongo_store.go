package database

import (
	"context"
	"errors"
	"fmt"
	"time"

	"school-copilot/models"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

const (
	documentsCollection     = "documents"
	chunksCollection        = "document_chunks"
	classesCollection       = "classes"
	classDocumentCollection = "class_documents"
	studentAccessCollection = "student_access"
	usersCollection         = "users"
	queryLogsCollection     = "query_logs"
)

// MongoStore implements Store on MongoDB
type MongoStore struct {
	client *mongo.Client
	db     *mongo.Database
}

// Compile-time check that MongoStore implements Store.
var _ Store = (*MongoStore)(nil)

// NewMongoStore uses database dbName of client and ensures its indexes
func NewMongoStore(client *mongo.Client, dbName string) (*MongoStore, error) {
	s := &MongoStore{client: client, db: client.Database(dbName)}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := s.EnsureIndexes(ctx); err != nil {
		return nil, fmt.Errorf("failed to create indexes: %v", err)
	}
	return s, nil
}

// EnsureIndexes creates the collection indexes the queries rely on
func (s *MongoStore) EnsureIndexes(ctx context.Context) error {
	indexes := map[string][]mongo.IndexModel{
		documentsCollection: {
			{Keys: bson.D{{Key: "owner_id", Value: 1}}},
			{Keys: bson.D{{Key: "status", Value: 1}}},
		},
		chunksCollection: {
			{Keys: bson.D{{Key: "document_id", Value: 1}, {Key: "chunk_index", Value: 1}}},
		},
		classesCollection: {
			{Keys: bson.D{{Key: "teacher_id", Value: 1}}},
		},
		classDocumentCollection: {
			{
				Keys:    bson.D{{Key: "class_id", Value: 1}, {Key: "document_id", Value: 1}},
				Options: options.Index().SetUnique(true),
			},
			{Keys: bson.D{{Key: "document_id", Value: 1}}},
		},
		studentAccessCollection: {
			{
				Keys:    bson.D{{Key: "student_id", Value: 1}, {Key: "class_id", Value: 1}},
				Options: options.Index().SetUnique(true),
			},
			{Keys: bson.D{{Key: "class_id", Value: 1}}},
		},
		usersCollection: {
			{Keys: bson.D{{Key: "email", Value: 1}}},
		},
		queryLogsCollection: {
			{Keys: bson.D{{Key: "class_id", Value: 1}, {Key: "sequence", Value: -1}}},
			{Keys: bson.D{{Key: "student_id", Value: 1}}},
		},
	}

	for name, idx := range indexes {
		if _, err := s.db.Collection(name).Indexes().CreateMany(ctx, idx); err != nil {
			return fmt.Errorf("%s: %w", name, err)
		}
	}
	return nil
}

func (s *MongoStore) col(name string) *mongo.Collection {
	return s.db.Collection(name)
}

func mongoNotFound(err error) error {
	if errors.Is(err, mongo.ErrNoDocuments) {
		return ErrNotFound
	}
	return err
}

// distinctOrEmpty never returns nil so the result is safe inside $in/$nin
func (s *MongoStore) distinctOrEmpty(ctx context.Context, collection, field string, filter interface{}) ([]interface{}, error) {
	values, err := s.col(collection).Distinct(ctx, field, filter)
	if err != nil {
		return nil, err
	}
	if values == nil {
		values = []interface{}{}
	}
	return values, nil
}

func (s *MongoStore) CreateDocument(ctx context.Context, doc *models.Document) error {
	_, err := s.col(documentsCollection).InsertOne(ctx, doc)
	return err
}

func (s *MongoStore) GetDocument(ctx context.Context, id string) (*models.Document, error) {
	var doc models.Document
	if err := s.col(documentsCollection).FindOne(ctx, bson.M{"_id": id}).Decode(&doc); err != nil {
		return nil, mongoNotFound(err)
	}
	return &doc, nil
}

func (s *MongoStore) UpdateDocument(ctx context.Context, doc *models.Document) error {
	res, err := s.col(documentsCollection).ReplaceOne(ctx, bson.M{"_id": doc.ID}, doc)
	if err != nil {
		return err
	}
	if res.MatchedCount == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *MongoStore) DeleteDocument(ctx context.Context, id string) error {
	res, err := s.col(documentsCollection).DeleteOne(ctx, bson.M{"_id": id})
	if err != nil {
		return err
	}
	if res.DeletedCount == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *MongoStore) ListDocuments(ctx context.Context) ([]models.Document, error) {
	return s.findDocuments(ctx, bson.M{})
}

func (s *MongoStore) findDocuments(ctx context.Context, filter interface{}) ([]models.Document, error) {
	opts := options.Find().SetSort(bson.D{{Key: "upload_date", Value: 1}, {Key: "_id", Value: 1}})
	cursor, err := s.col(documentsCollection).Find(ctx, filter, opts)
	if err != nil {
		return nil, err
	}
	var docs []models.Document
	if err := cursor.All(ctx, &docs); err != nil {
		return nil, err
	}
	return docs, nil
}

func (s *MongoStore) CreateChunks(ctx context.Context, chunks []models.Chunk) error {
	if len(chunks) == 0 {
		return nil
	}
	docs := make([]interface{}, len(chunks))
	for i := range chunks {
		docs[i] = chunks[i]
	}
	_, err := s.col(chunksCollection).InsertMany(ctx, docs)
	return err
}

func (s *MongoStore) GetChunks(ctx context.Context, ids []string) ([]models.Chunk, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	return s.findChunks(ctx, bson.M{"_id": bson.M{"$in": ids}})
}

func (s *MongoStore) ListChunksByDocument(ctx context.Context, documentID string) ([]models.Chunk, error) {
	return s.findChunks(ctx, bson.M{"document_id": documentID})
}

func (s *MongoStore) findChunks(ctx context.Context, filter interface{}) ([]models.Chunk, error) {
	opts := options.Find().SetSort(bson.D{{Key: "chunk_index", Value: 1}})
	cursor, err := s.col(chunksCollection).Find(ctx, filter, opts)
	if err != nil {
		return nil, err
	}
	var chunks []models.Chunk
	if err := cursor.All(ctx, &chunks); err != nil {
		return nil, err
	}
	return chunks, nil
}

func (s *MongoStore) CountChunksByDocument(ctx context.Context, documentID string) (int64, error) {
	return s.col(chunksCollection).CountDocuments(ctx, bson.M{"document_id": documentID})
}

func (s *MongoStore) DeleteChunksByDocument(ctx context.Context, documentID string) (int64, error) {
	res, err := s.col(chunksCollection).DeleteMany(ctx, bson.M{"document_id": documentID})
	if err != nil {
		return 0, err
	}
	return res.DeletedCount, nil
}

func (s *MongoStore) DeleteOrphanedChunks(ctx context.Context) (int64, error) {
	docIDs, err := s.distinctOrEmpty(ctx, documentsCollection, "_id", bson.M{})
	if err != nil {
		return 0, err
	}
	res, err := s.col(chunksCollection).DeleteMany(ctx, bson.M{"document_id": bson.M{"$nin": docIDs}})
	if err != nil {
		return 0, err
	}
	return res.DeletedCount, nil
}

func (s *MongoStore) CreateClass(ctx context.Context, class *models.Class) error {
	_, err := s.col(classesCollection).InsertOne(ctx, class)
	return err
}

func (s *MongoStore) GetClass(ctx context.Context, id string) (*models.Class, error) {
	var class models.Class
	if err := s.col(classesCollection).FindOne(ctx, bson.M{"_id": id}).Decode(&class); err != nil {
		return nil, mongoNotFound(err)
	}
	return &class, nil
}

func (s *MongoStore) UpdateClass(ctx context.Context, class *models.Class) error {
	res, err := s.col(classesCollection).ReplaceOne(ctx, bson.M{"_id": class.ID}, class)
	if err != nil {
		return err
	}
	if res.MatchedCount == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *MongoStore) ListClasses(ctx context.Context) ([]models.Class, error) {
	cursor, err := s.col(classesCollection).Find(ctx, bson.M{}, options.Find().SetSort(bson.D{{Key: "_id", Value: 1}}))
	if err != nil {
		return nil, err
	}
	var classes []models.Class
	if err := cursor.All(ctx, &classes); err != nil {
		return nil, err
	}
	return classes, nil
}

func (s *MongoStore) AssignDocument(ctx context.Context, classID, documentID string) error {
	filter := bson.M{"class_id": classID, "document_id": documentID}
	update := bson.M{"$setOnInsert": models.ClassDocument{
		ClassID:    classID,
		DocumentID: documentID,
		AssignedAt: time.Now().UTC(),
	}}
	_, err := s.col(classDocumentCollection).UpdateOne(ctx, filter, update, options.Update().SetUpsert(true))
	return err
}

func (s *MongoStore) UnassignDocument(ctx context.Context, classID, documentID string) error {
	_, err := s.col(classDocumentCollection).DeleteOne(ctx, bson.M{"class_id": classID, "document_id": documentID})
	return err
}

func (s *MongoStore) IsAssigned(ctx context.Context, classID, documentID string) (bool, error) {
	n, err := s.col(classDocumentCollection).CountDocuments(ctx, bson.M{"class_id": classID, "document_id": documentID})
	return n > 0, err
}

func (s *MongoStore) ListClassDocuments(ctx context.Context, classID string) ([]models.Document, error) {
	docIDs, err := s.distinctOrEmpty(ctx, classDocumentCollection, "document_id", bson.M{"class_id": classID})
	if err != nil {
		return nil, err
	}
	if len(docIDs) == 0 {
		return nil, nil
	}
	return s.findDocuments(ctx, bson.M{"_id": bson.M{"$in": docIDs}})
}

func (s *MongoStore) ListDocumentClassIDs(ctx context.Context, documentID string) ([]string, error) {
	values, err := s.distinctOrEmpty(ctx, classDocumentCollection, "class_id", bson.M{"document_id": documentID})
	if err != nil {
		return nil, err
	}
	ids := make([]string, 0, len(values))
	for _, v := range values {
		if id, ok := v.(string); ok {
			ids = append(ids, id)
		}
	}
	return ids, nil
}

func (s *MongoStore) DeleteInvalidAssignments(ctx context.Context) (int64, error) {
	docIDs, err := s.distinctOrEmpty(ctx, documentsCollection, "_id", bson.M{})
	if err != nil {
		return 0, err
	}
	classIDs, err := s.distinctOrEmpty(ctx, classesCollection, "_id", bson.M{})
	if err != nil {
		return 0, err
	}
	res, err := s.col(classDocumentCollection).DeleteMany(ctx, bson.M{"$or": bson.A{
		bson.M{"document_id": bson.M{"$nin": docIDs}},
		bson.M{"class_id": bson.M{"$nin": classIDs}},
	}})
	if err != nil {
		return 0, err
	}
	return res.DeletedCount, nil
}

func (s *MongoStore) UpsertStudentAccess(ctx context.Context, access *models.StudentAccess) error {
	filter := bson.M{"student_id": access.StudentID, "class_id": access.ClassID}
	_, err := s.col(studentAccessCollection).ReplaceOne(ctx, filter, access, options.Replace().SetUpsert(true))
	return err
}

func (s *MongoStore) GetStudentAccess(ctx context.Context, studentID, classID string) (*models.StudentAccess, error) {
	var access models.StudentAccess
	err := s.col(studentAccessCollection).FindOne(ctx, bson.M{"student_id": studentID, "class_id": classID}).Decode(&access)
	if err != nil {
		return nil, mongoNotFound(err)
	}
	return &access, nil
}

func (s *MongoStore) ListStudentAccessByStudent(ctx context.Context, studentID string) ([]models.StudentAccess, error) {
	return s.findAccess(ctx, bson.M{"student_id": studentID}, "class_id")
}

func (s *MongoStore) ListStudentAccessByClass(ctx context.Context, classID string) ([]models.StudentAccess, error) {
	return s.findAccess(ctx, bson.M{"class_id": classID}, "student_id")
}

func (s *MongoStore) findAccess(ctx context.Context, filter interface{}, sortKey string) ([]models.StudentAccess, error) {
	cursor, err := s.col(studentAccessCollection).Find(ctx, filter, options.Find().SetSort(bson.D{{Key: sortKey, Value: 1}}))
	if err != nil {
		return nil, err
	}
	var rows []models.StudentAccess
	if err := cursor.All(ctx, &rows); err != nil {
		return nil, err
	}
	return rows, nil
}

func (s *MongoStore) CreateUser(ctx context.Context, user *models.User) error {
	_, err := s.col(usersCollection).InsertOne(ctx, user)
	return err
}

func (s *MongoStore) GetUser(ctx context.Context, id string) (*models.User, error) {
	var user models.User
	if err := s.col(usersCollection).FindOne(ctx, bson.M{"_id": id}).Decode(&user); err != nil {
		return nil, mongoNotFound(err)
	}
	return &user, nil
}

func (s *MongoStore) CreateQueryLog(ctx context.Context, entry *models.QueryLog) error {
	_, err := s.col(queryLogsCollection).InsertOne(ctx, entry)
	return err
}

func (s *MongoStore) LastQueryLog(ctx context.Context, classID string) (*models.QueryLog, error) {
	var entry models.QueryLog
	opts := options.FindOne().SetSort(bson.D{{Key: "sequence", Value: -1}})
	if err := s.col(queryLogsCollection).FindOne(ctx, bson.M{"class_id": classID}, opts).Decode(&entry); err != nil {
		return nil, mongoNotFound(err)
	}
	return &entry, nil
}

func (s *MongoStore) ListQueryLogs(ctx context.Context, classID string, limit int) ([]models.QueryLog, error) {
	opts := options.Find().SetSort(bson.D{{Key: "sequence", Value: 1}})
	if limit > 0 {
		opts.SetLimit(int64(limit))
	}
	cursor, err := s.col(queryLogsCollection).Find(ctx, bson.M{"class_id": classID}, opts)
	if err != nil {
		return nil, err
	}
	var rows []models.QueryLog
	if err := cursor.All(ctx, &rows); err != nil {
		return nil, err
	}
	return rows, nil
}

func (s *MongoStore) Close(ctx context.Context) error {
	return s.client.Disconnect(ctx)
}
