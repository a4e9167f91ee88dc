// Package docgraph maintains the structural graph of uploaded documents and
// their inherited sections in Neo4j: a cross-document index the answer
// service reads to tell the chat model which other documents share a
// section with the document being answered from.
package docgraph

import (
	"context"
	"fmt"

	"github.com/constructionrag/ragcore/pkg/repo"
	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
	"github.com/neo4j/neo4j-go-driver/v5/neo4j/dbtype"
)

// DocumentNode is a (:Document) node.
type DocumentNode struct {
	ID            string `json:"id"`
	IndexingRunID string `json:"indexing_run_id"`
}

// SectionNode is a (:Section) node: one inherited section title, scoped to
// the document it was found in.
type SectionNode struct {
	DocumentID string `json:"document_id"`
	Title      string `json:"title"`
}

func documentToMap(d DocumentNode) map[string]any {
	return map[string]any{"id": d.ID, "indexing_run_id": d.IndexingRunID}
}

func documentFromRecord(rec *neo4j.Record) (DocumentNode, error) {
	node, _, err := neo4j.GetRecordValue[dbtype.Node](rec, "n")
	if err != nil {
		return DocumentNode{}, err
	}
	return DocumentNode{ID: strProp(node.Props, "id"), IndexingRunID: strProp(node.Props, "indexing_run_id")}, nil
}

func strProp(props map[string]any, key string) string {
	if v, ok := props[key]; ok {
		if s, ok := v.(string); ok {
			return s
		}
	}
	return ""
}

// Graph is a Neo4j-backed structural graph of documents and their sections.
type Graph struct {
	driver    neo4j.DriverWithContext
	documents *repo.Neo4jRepo[DocumentNode, string]
}

// New builds a Graph over the given driver.
func New(driver neo4j.DriverWithContext) *Graph {
	return &Graph{
		driver:    driver,
		documents: repo.NewNeo4jRepo[DocumentNode, string](driver, "Document", documentToMap, documentFromRecord),
	}
}

// SaveSections persists the Metadata stage's page->section-title sweep:
// one Document node, one Section node per distinct title found in the
// document, and a HAS_PAGE edge per page carrying the page number.
func (g *Graph) SaveSections(ctx context.Context, runID, documentID string, pageSections map[int]string) error {
	sess := g.driver.NewSession(ctx, neo4j.SessionConfig{})
	defer sess.Close(ctx)

	_, err := sess.ExecuteWrite(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		if _, err := tx.Run(ctx, `MERGE (d:Document {id: $id}) SET d.indexing_run_id = $run_id`,
			map[string]any{"id": documentID, "run_id": runID}); err != nil {
			return nil, err
		}
		for page, title := range pageSections {
			if title == "" {
				continue
			}
			cypher := `MATCH (d:Document {id: $doc_id})
				MERGE (s:Section {document_id: $doc_id, title: $title})
				MERGE (d)-[:HAS_PAGE {page: $page}]->(s)`
			if _, err := tx.Run(ctx, cypher, map[string]any{
				"doc_id": documentID, "title": title, "page": page,
			}); err != nil {
				return nil, err
			}
		}
		return nil, nil
	})
	return err
}

// SectionsForDocument returns every distinct section title recorded for a
// document, in no particular order.
func (g *Graph) SectionsForDocument(ctx context.Context, documentID string) ([]SectionNode, error) {
	sess := g.driver.NewSession(ctx, neo4j.SessionConfig{})
	defer sess.Close(ctx)

	cypher := `MATCH (:Document {id: $doc_id})-[:HAS_PAGE]->(s:Section) RETURN DISTINCT s`
	result, err := sess.Run(ctx, cypher, map[string]any{"doc_id": documentID})
	if err != nil {
		return nil, err
	}
	return collectSections(ctx, result)
}

// DocumentsSharingSection returns the documents (besides excludeDocumentID)
// that share a section title, the cross-document correlation the answer
// service adds to the chat model's context.
func (g *Graph) DocumentsSharingSection(ctx context.Context, title, excludeDocumentID string) ([]DocumentNode, error) {
	sess := g.driver.NewSession(ctx, neo4j.SessionConfig{})
	defer sess.Close(ctx)

	cypher := `MATCH (d:Document)-[:HAS_PAGE]->(:Section {title: $title})
		WHERE d.id <> $exclude
		RETURN DISTINCT d`
	result, err := sess.Run(ctx, cypher, map[string]any{"title": title, "exclude": excludeDocumentID})
	if err != nil {
		return nil, err
	}

	var docs []DocumentNode
	for result.Next(ctx) {
		node, _, err := neo4j.GetRecordValue[dbtype.Node](result.Record(), "d")
		if err != nil {
			return nil, err
		}
		docs = append(docs, DocumentNode{ID: strProp(node.Props, "id"), IndexingRunID: strProp(node.Props, "indexing_run_id")})
	}
	return docs, nil
}

func collectSections(ctx context.Context, result neo4j.ResultWithContext) ([]SectionNode, error) {
	var items []SectionNode
	for result.Next(ctx) {
		node, _, err := neo4j.GetRecordValue[dbtype.Node](result.Record(), "s")
		if err != nil {
			return nil, fmt.Errorf("docgraph: read section node: %w", err)
		}
		items = append(items, SectionNode{
			DocumentID: strProp(node.Props, "document_id"),
			Title:      strProp(node.Props, "title"),
		})
	}
	return items, nil
}
