package qdrant

import (
	"testing"

	"github.com/koopa0/grounded/internal/core"
	"github.com/koopa0/grounded/internal/vectorstore"
)

func TestChunkPayloadRoundTrip(t *testing.T) {
	t.Parallel()

	in := core.Chunk{
		ID:         "doc:0003",
		DocumentID: "doc",
		Ordinal:    3,
		Text:       "some chunk text",
		Start:      120,
		End:        180,
		Metadata:   map[string]string{"source": "notes.md", "lang": "en"},
	}

	out, err := chunkFromPayload(chunkPayload(in))
	if err != nil {
		t.Fatalf("chunkFromPayload() = %v", err)
	}

	if out.ID != in.ID || out.DocumentID != in.DocumentID || out.Ordinal != in.Ordinal {
		t.Errorf("identity fields changed: %+v", out)
	}
	if out.Text != in.Text || out.Start != in.Start || out.End != in.End {
		t.Errorf("span fields changed: %+v", out)
	}
	if len(out.Metadata) != 2 || out.Metadata["source"] != "notes.md" {
		t.Errorf("metadata changed: %v", out.Metadata)
	}
}

func TestChunkFromPayload_MissingID(t *testing.T) {
	t.Parallel()

	if _, err := chunkFromPayload(nil); err == nil {
		t.Error("payload without chunk_id should be rejected")
	}
}

func TestPointID_Deterministic(t *testing.T) {
	t.Parallel()

	a := pointID("doc:0001")
	b := pointID("doc:0001")
	c := pointID("doc:0002")

	if a.GetUuid() != b.GetUuid() {
		t.Error("same chunk ID must map to the same point ID")
	}
	if a.GetUuid() == c.GetUuid() {
		t.Error("different chunk IDs must map to different point IDs")
	}
}

func TestMetadataFilter(t *testing.T) {
	t.Parallel()

	if metadataFilter(nil) != nil {
		t.Error("empty filter should build no conditions")
	}

	f := metadataFilter(vectorstore.Filter{"source": "notes.md"})
	if len(f.GetMust()) != 1 {
		t.Fatalf("got %d conditions, want 1", len(f.GetMust()))
	}
	cond := f.GetMust()[0].GetField()
	if cond.GetKey() != metaPrefix+"source" {
		t.Errorf("condition key = %q, want %q", cond.GetKey(), metaPrefix+"source")
	}
	if cond.GetMatch().GetKeyword() != "notes.md" {
		t.Errorf("condition value = %q", cond.GetMatch().GetKeyword())
	}
}
