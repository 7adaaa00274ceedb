package vector

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/weaviate/weaviate/entities/models"
)

type MockSchemaClient struct {
	CreatedClass    *models.Class
	ExistingClass   *models.Class
	AddedProperties []*models.Property
	ExistsErr       error
}

func (m *MockSchemaClient) ClassExists(ctx context.Context, className string) (bool, error) {
	if m.ExistsErr != nil {
		return false, m.ExistsErr
	}
	return m.ExistingClass != nil, nil
}

func (m *MockSchemaClient) CreateClass(ctx context.Context, class *models.Class) error {
	m.CreatedClass = class
	return nil
}

func (m *MockSchemaClient) GetClass(ctx context.Context, className string) (*models.Class, error) {
	return m.ExistingClass, nil
}

func (m *MockSchemaClient) AddProperty(ctx context.Context, className string, property *models.Property) error {
	m.AddedProperties = append(m.AddedProperties, property)
	return nil
}

func TestEnsureSchema_CreatesClass(t *testing.T) {
	client := &MockSchemaClient{}
	assert.NoError(t, EnsureSchema(context.Background(), client))

	if assert.NotNil(t, client.CreatedClass) {
		assert.Equal(t, ClassName, client.CreatedClass.Class)
		assert.Equal(t, "none", client.CreatedClass.Vectorizer)

		types := map[string]string{}
		for _, p := range client.CreatedClass.Properties {
			types[p.Name] = p.DataType[0]
		}
		assert.Equal(t, map[string]string{"content": "text", "source": "string", "page": "int", "offset": "int"}, types)
	}
}

func TestEnsureSchema_AddsMissingProperties(t *testing.T) {
	client := &MockSchemaClient{
		ExistingClass: &models.Class{
			Class: ClassName,
			Properties: []*models.Property{
				{Name: "content", DataType: []string{"text"}},
				{Name: "source", DataType: []string{"string"}},
			},
		},
	}
	assert.NoError(t, EnsureSchema(context.Background(), client))
	assert.Nil(t, client.CreatedClass)

	added := map[string]bool{}
	for _, p := range client.AddedProperties {
		added[p.Name] = true
	}
	assert.Equal(t, map[string]bool{"page": true, "offset": true}, added)
}

func TestEnsureSchema_Error(t *testing.T) {
	client := &MockSchemaClient{ExistsErr: errors.New("connection refused")}
	assert.Error(t, EnsureSchema(context.Background(), client))
	assert.Nil(t, client.CreatedClass)
}
