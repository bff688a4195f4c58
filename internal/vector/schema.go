package vector

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/weaviate/weaviate/entities/models"
)

// SchemaClient is the slice of the Weaviate schema API collection bootstrap needs.
type SchemaClient interface {
	ClassExists(ctx context.Context, className string) (bool, error)
	CreateClass(ctx context.Context, class *models.Class) error
	GetClass(ctx context.Context, className string) (*models.Class, error)
	AddProperty(ctx context.Context, className string, property *models.Property) error
}

// CollectionSpec describes the target collection. Distance uses Weaviate's
// names: cosine, dot, l2-squared, hamming, manhattan.
type CollectionSpec struct {
	Name       string
	VectorSize int
	Distance   string
}

// PayloadProperties are the fields every point carries.
func PayloadProperties() []*models.Property {
	return []*models.Property{
		{
			Name:        "text",
			DataType:    []string{"text"},
			Description: "Chunk text",
		},
		{
			Name:        "source",
			DataType:    []string{"string"}, // exact match (IRS, CRA)
			Description: "Source site name",
		},
		{
			Name:        "url",
			DataType:    []string{"string"}, // URL as string (exact match)
			Description: "Page the chunk was extracted from",
		},
	}
}

// EnsureCollection creates the collection when absent and otherwise only adds
// payload properties it is missing. Safe to call repeatedly.
func EnsureCollection(ctx context.Context, client SchemaClient, spec CollectionSpec) error {
	if spec.Name == "" {
		return fmt.Errorf("collection name required")
	}

	exists, err := client.ClassExists(ctx, spec.Name)
	if err != nil {
		return fmt.Errorf("check collection %s: %w", spec.Name, err)
	}

	properties := PayloadProperties()

	if !exists {
		class := &models.Class{
			Class:       spec.Name,
			Description: fmt.Sprintf("Tax knowledge base chunks (%d dimensions)", spec.VectorSize),
			Vectorizer:  "none",
			VectorIndexConfig: map[string]interface{}{
				"distance": strings.ToLower(spec.Distance),
			},
			Properties: properties,
		}
		if err := client.CreateClass(ctx, class); err != nil {
			return fmt.Errorf("create collection %s: %w", spec.Name, err)
		}
		slog.InfoContext(ctx, "collection created", "collection", spec.Name, "distance", spec.Distance, "vector_size", spec.VectorSize)
		return nil
	}

	// Class exists, check for missing properties
	class, err := client.GetClass(ctx, spec.Name)
	if err != nil {
		return fmt.Errorf("get collection %s: %w", spec.Name, err)
	}

	if got := classDistance(class); got != "" && !strings.EqualFold(got, spec.Distance) {
		slog.WarnContext(ctx, "collection distance differs from configuration", "collection", spec.Name, "existing", got, "configured", spec.Distance)
	}

	existingProps := make(map[string]bool)
	for _, p := range class.Properties {
		existingProps[p.Name] = true
	}

	for _, p := range properties {
		if existingProps[p.Name] {
			continue
		}
		if err := client.AddProperty(ctx, spec.Name, p); err != nil {
			return fmt.Errorf("add property %s: %w", p.Name, err)
		}
	}
	return nil
}

func classDistance(class *models.Class) string {
	if class == nil {
		return ""
	}
	cfg, ok := class.VectorIndexConfig.(map[string]interface{})
	if !ok {
		return ""
	}
	d, _ := cfg["distance"].(string)
	return d
}

// Collection binds a schema client to one CollectionSpec so the pipeline can ensure it
// without knowing either.
type Collection struct {
	client SchemaClient
	spec   CollectionSpec
}

func NewCollection(client SchemaClient, spec CollectionSpec) *Collection {
	return &Collection{client: client, spec: spec}
}

func (c *Collection) EnsureCollection(ctx context.Context) error {
	return EnsureCollection(ctx, c.client, c.spec)
}
