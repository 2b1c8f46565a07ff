// Package tracking exports leads to the Notion board the sales team works
// from. The store stays the source of truth; the board is a mirror.
package tracking

import (
	"context"

	"github.com/jomei/notionapi"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/startino/reletino/internal/model"
	"github.com/startino/reletino/pkg/notion"
)

// statusNames maps lead statuses to the board's status option labels.
var statusNames = map[model.LeadStatus]string{
	model.LeadStatusUnderReview: "Under Review",
	model.LeadStatusContacted:   "Contacted",
	model.LeadStatusDone:        "Done",
	model.LeadStatusSubscriber:  "Subscriber",
}

// ExportSummary reports what one export pass did.
type ExportSummary struct {
	Created int
	Updated int
	Failed  int
}

// Tracker pushes leads onto a Notion database keyed by source id.
type Tracker struct {
	client notion.Client
	dbID   string
}

func NewTracker(client notion.Client, dbID string) *Tracker {
	return &Tracker{client: client, dbID: dbID}
}

// Export upserts every lead onto the board. Per-lead failures are counted
// and logged; the pass keeps going.
func (t *Tracker) Export(ctx context.Context, leads []model.Lead) (*ExportSummary, error) {
	summary := &ExportSummary{}
	for _, lead := range leads {
		created, err := t.exportOne(ctx, lead)
		if err != nil {
			summary.Failed++
			zap.L().Warn("lead export failed",
				zap.String("lead_id", lead.ID),
				zap.String("source_id", lead.SourceID),
				zap.Error(err))
			continue
		}
		if created {
			summary.Created++
		} else {
			summary.Updated++
		}
	}
	zap.L().Info("exported leads to notion",
		zap.Int("created", summary.Created),
		zap.Int("updated", summary.Updated),
		zap.Int("failed", summary.Failed))
	return summary, nil
}

func (t *Tracker) exportOne(ctx context.Context, lead model.Lead) (bool, error) {
	pageID, err := t.findPage(ctx, lead.SourceID)
	if err != nil {
		return false, err
	}

	if pageID == "" {
		_, err := t.client.CreatePage(ctx, &notionapi.PageCreateRequest{
			Parent: notionapi.Parent{
				Type:       notionapi.ParentTypeDatabaseID,
				DatabaseID: notionapi.DatabaseID(t.dbID),
			},
			Properties: t.pageProperties(lead, true),
		})
		if err != nil {
			return false, err
		}
		return true, nil
	}

	_, err = t.client.UpdatePage(ctx, pageID, &notionapi.PageUpdateRequest{
		Properties: t.pageProperties(lead, false),
	})
	return false, err
}

// findPage looks up an existing board page by source id. Returns "" when the
// lead has no page yet.
func (t *Tracker) findPage(ctx context.Context, sourceID string) (string, error) {
	resp, err := t.client.QueryDatabase(ctx, t.dbID, &notionapi.DatabaseQueryRequest{
		Filter: notionapi.PropertyFilter{
			Property: "Source ID",
			RichText: &notionapi.TextFilterCondition{Equals: sourceID},
		},
		PageSize: 1,
	})
	if err != nil {
		return "", eris.Wrapf(err, "tracking: find page for %s", sourceID)
	}
	if len(resp.Results) == 0 {
		return "", nil
	}
	return string(resp.Results[0].ID), nil
}

// pageProperties builds the board row. Identity fields are only written on
// create so manual edits to titles survive status syncs.
func (t *Tracker) pageProperties(lead model.Lead, create bool) notionapi.Properties {
	props := notionapi.Properties{
		"Status": notionapi.StatusProperty{
			Status: notionapi.Status{Name: statusNames[lead.Status]},
		},
		"Last Event": notionapi.RichTextProperty{
			RichText: []notionapi.RichText{{Text: &notionapi.Text{Content: lead.LastEvent}}},
		},
	}
	if create {
		props["Name"] = notionapi.TitleProperty{
			Title: []notionapi.RichText{{Text: &notionapi.Text{Content: lead.Data.Title}}},
		}
		props["Source ID"] = notionapi.RichTextProperty{
			RichText: []notionapi.RichText{{Text: &notionapi.Text{Content: lead.SourceID}}},
		}
		props["Prospect"] = notionapi.RichTextProperty{
			RichText: []notionapi.RichText{{Text: &notionapi.Text{Content: lead.ProspectUsername}}},
		}
		props["URL"] = notionapi.URLProperty{URL: lead.Data.URL}
	}
	return props
}
