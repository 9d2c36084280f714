package poi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/elastic/go-elasticsearch/v8"
	"github.com/elastic/go-elasticsearch/v8/esapi"

	"tripplan-go/internal/config"
	"tripplan-go/internal/model"
	"tripplan-go/pkg/log"
)

// SearchIndex is the local spatial/text index used ahead of the external
// provider in the POI waterfall (spec §4.D).
type SearchIndex interface {
	Search(ctx context.Context, lat, lng float64, poiType string, radiusM, limit int) ([]model.PoiResult, error)
	Index(ctx context.Context, poi model.Poi) error
}

type esSearchIndex struct {
	client *elasticsearch.Client
	index  string
}

// NewSearchIndex wraps an Elasticsearch client, creating the POI index
// with a geo_point mapping if it does not already exist.
func NewSearchIndex(esCfg config.ElasticsearchConfig) (SearchIndex, error) {
	cfg := elasticsearch.Config{
		Addresses: []string{esCfg.Addresses},
		Username:  esCfg.Username,
		Password:  esCfg.Password,
	}
	client, err := elasticsearch.NewClient(cfg)
	if err != nil {
		return nil, err
	}
	idx := &esSearchIndex{client: client, index: esCfg.IndexName}
	if err := idx.ensureIndex(); err != nil {
		return nil, err
	}
	return idx, nil
}

func (idx *esSearchIndex) ensureIndex() error {
	res, err := idx.client.Indices.Exists([]string{idx.index})
	if err != nil {
		return err
	}
	if !res.IsError() && res.StatusCode == http.StatusOK {
		log.Infof("poi 索引 '%s' 已存在", idx.index)
		return nil
	}
	if res.StatusCode != http.StatusNotFound {
		return fmt.Errorf("检查 poi 索引是否存在时收到意外状态码: %d", res.StatusCode)
	}

	mapping := `{
		"mappings": {
			"properties": {
				"provider": { "type": "keyword" },
				"provider_id": { "type": "keyword" },
				"name": {
					"type": "text",
					"analyzer": "ik_max_word",
					"search_analyzer": "ik_smart"
				},
				"category": { "type": "keyword" },
				"addr": { "type": "text" },
				"rating": { "type": "float" },
				"location": { "type": "geo_point" }
			}
		}
	}`
	res, err = idx.client.Indices.Create(
		idx.index,
		idx.client.Indices.Create.WithBody(strings.NewReader(mapping)),
	)
	if err != nil {
		return err
	}
	if res.IsError() {
		return errors.New("创建 poi 索引时 Elasticsearch 返回错误: " + res.String())
	}
	log.Infof("poi 索引 '%s' 创建成功", idx.index)
	return nil
}

type esPoiDoc struct {
	Provider   string        `json:"provider"`
	ProviderID string        `json:"provider_id"`
	Name       string        `json:"name"`
	Category   string        `json:"category"`
	Addr       string        `json:"addr"`
	Rating     float64       `json:"rating"`
	Location   geoPointField `json:"location"`
}

type geoPointField struct {
	Lat float64 `json:"lat"`
	Lon float64 `json:"lon"`
}

// Index upserts poi into the search index, documents keyed by
// provider:provider_id so re-indexing never duplicates an entry.
func (idx *esSearchIndex) Index(ctx context.Context, poi model.Poi) error {
	doc := esPoiDoc{
		Provider:   poi.Provider,
		ProviderID: poi.ProviderID,
		Name:       poi.Name,
		Category:   poi.Category,
		Addr:       poi.Addr,
		Rating:     poi.Rating,
		Location:   geoPointField{Lat: poi.Lat, Lon: poi.Lng},
	}
	docBytes, err := json.Marshal(doc)
	if err != nil {
		return err
	}
	req := esapi.IndexRequest{
		Index:      idx.index,
		DocumentID: poi.Key(),
		Body:       bytes.NewReader(docBytes),
		Refresh:    "true",
	}
	res, err := req.Do(ctx, idx.client)
	if err != nil {
		return err
	}
	defer res.Body.Close()
	if res.IsError() {
		return fmt.Errorf("索引 poi 文档到 Elasticsearch 出错: %s", res.String())
	}
	return nil
}

// Search runs a geo_distance filter optionally combined with a category
// term filter, sorted nearest-first.
func (idx *esSearchIndex) Search(ctx context.Context, lat, lng float64, poiType string, radiusM, limit int) ([]model.PoiResult, error) {
	filter := []map[string]interface{}{
		{
			"geo_distance": map[string]interface{}{
				"distance": fmt.Sprintf("%dm", radiusM),
				"location": map[string]interface{}{"lat": lat, "lon": lng},
			},
		},
	}
	if poiType != "" {
		filter = append(filter, map[string]interface{}{
			"term": map[string]interface{}{"category": poiType},
		})
	}

	query := map[string]interface{}{
		"size": limit,
		"query": map[string]interface{}{
			"bool": map[string]interface{}{
				"filter": filter,
			},
		},
		"sort": []map[string]interface{}{
			{
				"_geo_distance": map[string]interface{}{
					"location":      map[string]interface{}{"lat": lat, "lon": lng},
					"order":         "asc",
					"unit":          "m",
					"distance_type": "arc",
				},
			},
		},
	}

	var buf bytes.Buffer
	if err := json.NewEncoder(&buf).Encode(query); err != nil {
		return nil, err
	}

	res, err := idx.client.Search(
		idx.client.Search.WithContext(ctx),
		idx.client.Search.WithIndex(idx.index),
		idx.client.Search.WithBody(&buf),
	)
	if err != nil {
		return nil, err
	}
	defer res.Body.Close()
	if res.IsError() {
		bodyBytes, _ := io.ReadAll(res.Body)
		return nil, fmt.Errorf("elasticsearch poi search failed: %s", string(bodyBytes))
	}

	var parsed struct {
		Hits struct {
			Hits []struct {
				Source esPoiDoc  `json:"_source"`
				Sort   []float64 `json:"sort"`
			} `json:"hits"`
		} `json:"hits"`
	}
	if err := json.NewDecoder(res.Body).Decode(&parsed); err != nil {
		return nil, err
	}

	out := make([]model.PoiResult, 0, len(parsed.Hits.Hits))
	for _, hit := range parsed.Hits.Hits {
		var distance float64
		if len(hit.Sort) > 0 {
			distance = hit.Sort[0]
		}
		out = append(out, model.PoiResult{
			Provider:   hit.Source.Provider,
			ProviderID: hit.Source.ProviderID,
			Name:       hit.Source.Name,
			Category:   hit.Source.Category,
			Addr:       hit.Source.Addr,
			Rating:     hit.Source.Rating,
			Lat:        hit.Source.Location.Lat,
			Lng:        hit.Source.Location.Lon,
			DistanceM:  distance,
			Source:     "db",
		})
	}
	return out, nil
}
