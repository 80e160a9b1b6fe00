package sqlite

import (
	"context"
	"testing"
	"time"

	"github.com/loomhq/loom/internal/fault"
	"github.com/loomhq/loom/pkg/models"
)

func openTestStores(t *testing.T) *Stores {
	t.Helper()
	db, err := Open(":memory:")
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return NewStores(db)
}

func testProject(id string) *models.Project {
	return &models.Project{
		ID:   id,
		Name: "Test " + id,
		AgentConfig: models.AgentConfig{
			ProjectID: id,
			Provider:  models.ProviderConfig{Provider: "mock", Model: "mock-1"},
		},
		CreatedAt: time.Now(),
	}
}

func TestProjectCRUD(t *testing.T) {
	stores := openTestStores(t)
	ctx := context.Background()

	p := testProject("proj-1")
	if err := stores.Projects.Create(ctx, p); err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := stores.Projects.Create(ctx, p); fault.CodeOf(err) != fault.CodeValidation {
		t.Fatalf("duplicate create code = %v, want validation", fault.CodeOf(err))
	}

	got, err := stores.Projects.Get(ctx, "proj-1")
	if err != nil || got == nil {
		t.Fatalf("get: %v %v", got, err)
	}
	if got.Name != p.Name {
		t.Fatalf("name = %q, want %q", got.Name, p.Name)
	}

	got.Name = "Renamed"
	if err := stores.Projects.Update(ctx, got); err != nil {
		t.Fatalf("update: %v", err)
	}
	got, _ = stores.Projects.Get(ctx, "proj-1")
	if got.Name != "Renamed" {
		t.Fatalf("name after update = %q", got.Name)
	}

	all, err := stores.Projects.List(ctx)
	if err != nil || len(all) != 1 {
		t.Fatalf("list = %d, %v", len(all), err)
	}

	if err := stores.Projects.Delete(ctx, "proj-1"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if got, _ := stores.Projects.Get(ctx, "proj-1"); got != nil {
		t.Fatal("project survived delete")
	}
	if err := stores.Projects.Delete(ctx, "proj-1"); fault.CodeOf(err) != fault.CodeValidation {
		t.Fatalf("delete missing code = %v", fault.CodeOf(err))
	}
}

func TestSessionMessagesMonotonic(t *testing.T) {
	stores := openTestStores(t)
	ctx := context.Background()

	sess := &models.Session{
		ID:        "sess-1",
		ProjectID: "proj-1",
		Status:    models.SessionActive,
		CreatedAt: time.Now(),
	}
	if err := stores.Sessions.Create(ctx, sess); err != nil {
		t.Fatalf("create session: %v", err)
	}

	// Same wall-clock timestamp for every message; order must still hold.
	at := time.Now()
	for _, content := range []string{"first", "second", "third"} {
		msg := &models.Message{
			SessionID: "sess-1",
			Role:      models.RoleUser,
			Content:   content,
			CreatedAt: at,
		}
		if err := stores.Sessions.AppendMessage(ctx, msg); err != nil {
			t.Fatalf("append %q: %v", content, err)
		}
		if msg.ID == "" {
			t.Fatal("message ID not assigned")
		}
	}

	msgs, err := stores.Sessions.Messages(ctx, "sess-1")
	if err != nil {
		t.Fatalf("messages: %v", err)
	}
	if len(msgs) != 3 {
		t.Fatalf("len = %d", len(msgs))
	}
	for i, want := range []string{"first", "second", "third"} {
		if msgs[i].Content != want {
			t.Fatalf("msgs[%d] = %q, want %q", i, msgs[i].Content, want)
		}
	}
	if !msgs[1].CreatedAt.After(msgs[0].CreatedAt) || !msgs[2].CreatedAt.After(msgs[1].CreatedAt) {
		t.Fatal("timestamps not strictly increasing")
	}

	if err := stores.Sessions.AppendMessage(ctx, &models.Message{SessionID: "nope"}); fault.CodeOf(err) != fault.CodeSession {
		t.Fatalf("append to missing session code = %v", fault.CodeOf(err))
	}
}

func TestFindActiveSession(t *testing.T) {
	stores := openTestStores(t)
	ctx := context.Background()

	old := &models.Session{ID: "s-old", ProjectID: "p", ContactID: "c", Status: models.SessionClosed, CreatedAt: time.Now().Add(-time.Hour)}
	cur := &models.Session{ID: "s-cur", ProjectID: "p", ContactID: "c", Status: models.SessionActive, CreatedAt: time.Now()}
	for _, s := range []*models.Session{old, cur} {
		if err := stores.Sessions.Create(ctx, s); err != nil {
			t.Fatalf("create: %v", err)
		}
	}

	got, err := stores.Sessions.FindActive(ctx, "p", "c")
	if err != nil || got == nil {
		t.Fatalf("find active: %v %v", got, err)
	}
	if got.ID != "s-cur" {
		t.Fatalf("active = %q, want s-cur", got.ID)
	}
}

func TestTraceAddEvents(t *testing.T) {
	stores := openTestStores(t)
	ctx := context.Background()

	tr := &models.ExecutionTrace{
		ID:        "tr-1",
		ProjectID: "p",
		SessionID: "s",
		Status:    models.TraceRunning,
		CreatedAt: time.Now(),
	}
	if err := stores.Traces.Create(ctx, tr); err != nil {
		t.Fatalf("create: %v", err)
	}

	events := []models.TraceEvent{
		{Type: models.TraceEventLLMRequest, Turn: 1, Timestamp: time.Now()},
		{Type: models.TraceEventLLMResponse, Turn: 1, Timestamp: time.Now()},
	}
	if err := stores.Traces.AddEvents(ctx, "tr-1", events); err != nil {
		t.Fatalf("add events: %v", err)
	}
	if err := stores.Traces.AddEvents(ctx, "tr-1", nil); err != nil {
		t.Fatalf("empty add events: %v", err)
	}

	got, err := stores.Traces.FindByID(ctx, "tr-1")
	if err != nil || got == nil {
		t.Fatalf("find: %v %v", got, err)
	}
	if len(got.Events) != 2 {
		t.Fatalf("events = %d, want 2", len(got.Events))
	}
	if got.Events[0].Type != models.TraceEventLLMRequest {
		t.Fatalf("events[0] = %q", got.Events[0].Type)
	}

	if err := stores.Traces.AddEvents(ctx, "missing", events); fault.CodeOf(err) != fault.CodeValidation {
		t.Fatalf("add to missing trace code = %v", fault.CodeOf(err))
	}
}

func TestTaskDue(t *testing.T) {
	stores := openTestStores(t)
	ctx := context.Background()
	now := time.Now()

	past := now.Add(-time.Minute)
	future := now.Add(time.Hour)
	tasks := []*models.ScheduledTask{
		{ID: "due", ProjectID: "p", Status: models.TaskActive, NextRunAt: &past, CreatedAt: now},
		{ID: "later", ProjectID: "p", Status: models.TaskActive, NextRunAt: &future, CreatedAt: now},
		{ID: "paused", ProjectID: "p", Status: models.TaskPaused, NextRunAt: &past, CreatedAt: now},
		{ID: "unscheduled", ProjectID: "p", Status: models.TaskActive, CreatedAt: now},
	}
	for _, task := range tasks {
		if err := stores.Tasks.Create(ctx, task); err != nil {
			t.Fatalf("create %s: %v", task.ID, err)
		}
	}

	due, err := stores.Tasks.Due(ctx, now)
	if err != nil {
		t.Fatalf("due: %v", err)
	}
	if len(due) != 1 || due[0].ID != "due" {
		t.Fatalf("due = %+v, want exactly [due]", due)
	}

	if err := stores.Tasks.Update(ctx, &models.ScheduledTask{ID: "missing"}); fault.CodeOf(err) != fault.CodeTaskNotFound {
		t.Fatalf("update missing code = %v", fault.CodeOf(err))
	}
}

func TestUsageTurnKeyIdempotent(t *testing.T) {
	stores := openTestStores(t)
	ctx := context.Background()
	now := time.Now()

	rec := &models.UsageRecord{
		ProjectID:    "p",
		Timestamp:    now,
		Provider:     "anthropic",
		Model:        "m",
		InputTokens:  100,
		OutputTokens: 50,
		CostUSD:      0.25,
		TurnKey:      "trace-1:3",
	}
	for i := 0; i < 3; i++ {
		if err := stores.Usage.Append(ctx, rec); err != nil {
			t.Fatalf("append %d: %v", i, err)
		}
	}
	// Records without a turn key are never deduplicated.
	plain := &models.UsageRecord{ProjectID: "p", Timestamp: now, Provider: "anthropic", Model: "m", CostUSD: 0.1}
	if err := stores.Usage.Append(ctx, plain); err != nil {
		t.Fatalf("plain append: %v", err)
	}
	if err := stores.Usage.Append(ctx, plain); err != nil {
		t.Fatalf("plain append again: %v", err)
	}

	n, err := stores.Usage.CountSince(ctx, "p", now.Add(-time.Minute))
	if err != nil {
		t.Fatalf("count: %v", err)
	}
	if n != 3 {
		t.Fatalf("count = %d, want 3", n)
	}
	total, err := stores.Usage.SumCostSince(ctx, "p", now.Add(-time.Minute))
	if err != nil {
		t.Fatalf("sum: %v", err)
	}
	if total < 0.44 || total > 0.46 {
		t.Fatalf("total = %v, want 0.45", total)
	}
}

func TestContactChannelUniqueness(t *testing.T) {
	stores := openTestStores(t)
	ctx := context.Background()

	a := &models.Contact{ID: "c-1", ProjectID: "p1", Name: "A", TelegramID: "555", CreatedAt: time.Now()}
	if err := stores.Contacts.Create(ctx, a); err != nil {
		t.Fatalf("create: %v", err)
	}
	dup := &models.Contact{ID: "c-2", ProjectID: "p1", Name: "B", TelegramID: "555", CreatedAt: time.Now()}
	if err := stores.Contacts.Create(ctx, dup); fault.CodeOf(err) != fault.CodeValidation {
		t.Fatalf("duplicate identifier code = %v", fault.CodeOf(err))
	}
	// Same identifier in another project is fine.
	other := &models.Contact{ID: "c-3", ProjectID: "p2", Name: "C", TelegramID: "555", CreatedAt: time.Now()}
	if err := stores.Contacts.Create(ctx, other); err != nil {
		t.Fatalf("cross-project create: %v", err)
	}

	found, err := stores.Contacts.FindByChannel(ctx, "p1", "telegram", "555")
	if err != nil || found == nil {
		t.Fatalf("find: %v %v", found, err)
	}
	if found.ID != "c-1" {
		t.Fatalf("found = %q", found.ID)
	}
	if found, _ := stores.Contacts.FindByChannel(ctx, "p1", "carrier-pigeon", "555"); found != nil {
		t.Fatal("unknown provider should find nothing")
	}
}

func TestSecretRoundTrip(t *testing.T) {
	stores := openTestStores(t)
	ctx := context.Background()
	now := time.Now()

	sec := &models.Secret{
		ProjectID:  "p",
		Key:        "BOT_TOKEN",
		Ciphertext: []byte{1, 2, 3},
		IV:         []byte{4, 5, 6},
		AuthTag:    []byte{7, 8, 9},
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	if err := stores.Secrets.Put(ctx, sec); err != nil {
		t.Fatalf("put: %v", err)
	}
	got, err := stores.Secrets.Get(ctx, "p", "BOT_TOKEN")
	if err != nil || got == nil {
		t.Fatalf("get: %v %v", got, err)
	}
	if string(got.Ciphertext) != string(sec.Ciphertext) || string(got.IV) != string(sec.IV) || string(got.AuthTag) != string(sec.AuthTag) {
		t.Fatal("cipher material did not round-trip")
	}

	sec.Ciphertext = []byte{9, 9, 9}
	if err := stores.Secrets.Put(ctx, sec); err != nil {
		t.Fatalf("upsert: %v", err)
	}
	got, _ = stores.Secrets.Get(ctx, "p", "BOT_TOKEN")
	if string(got.Ciphertext) != string(sec.Ciphertext) {
		t.Fatal("upsert did not replace ciphertext")
	}

	metas, err := stores.Secrets.List(ctx, "p")
	if err != nil || len(metas) != 1 {
		t.Fatalf("list = %d, %v", len(metas), err)
	}
	if err := stores.Secrets.Delete(ctx, "p", "BOT_TOKEN"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if got, _ := stores.Secrets.Get(ctx, "p", "BOT_TOKEN"); got != nil {
		t.Fatal("secret survived delete")
	}
}

func TestLayerActivateSupersedes(t *testing.T) {
	stores := openTestStores(t)
	ctx := context.Background()
	now := time.Now()

	v1 := &models.PromptLayer{ID: "l-1", ProjectID: "p", Kind: models.LayerIdentity, Version: 1, Content: "one", Active: true, CreatedAt: now}
	v2 := &models.PromptLayer{ID: "l-2", ProjectID: "p", Kind: models.LayerIdentity, Version: 2, Content: "two", CreatedAt: now}
	safety := &models.PromptLayer{ID: "l-3", ProjectID: "p", Kind: models.LayerSafety, Version: 1, Content: "guard", Active: true, CreatedAt: now}
	for _, l := range []*models.PromptLayer{v1, v2, safety} {
		if err := stores.Layers.Create(ctx, l); err != nil {
			t.Fatalf("create %s: %v", l.ID, err)
		}
	}

	activated, err := stores.Layers.Activate(ctx, "l-2")
	if err != nil {
		t.Fatalf("activate: %v", err)
	}
	if !activated.Active || activated.Version != 2 {
		t.Fatalf("activated = %+v", activated)
	}

	active, err := stores.Layers.Active(ctx, "p")
	if err != nil {
		t.Fatalf("active: %v", err)
	}
	if active[models.LayerIdentity] == nil || active[models.LayerIdentity].ID != "l-2" {
		t.Fatalf("identity active = %+v", active[models.LayerIdentity])
	}
	// Other kinds are untouched.
	if active[models.LayerSafety] == nil || active[models.LayerSafety].ID != "l-3" {
		t.Fatalf("safety active = %+v", active[models.LayerSafety])
	}

	next, err := stores.Layers.NextVersion(ctx, "p", models.LayerIdentity)
	if err != nil || next != 3 {
		t.Fatalf("next version = %d, %v", next, err)
	}
	if next, _ := stores.Layers.NextVersion(ctx, "p", models.LayerInstructions); next != 1 {
		t.Fatalf("fresh kind next version = %d", next)
	}

	if _, err := stores.Layers.Activate(ctx, "missing"); fault.CodeOf(err) != fault.CodeValidation {
		t.Fatalf("activate missing code = %v", fault.CodeOf(err))
	}
}

func TestMemoryEntrySearchAndExpiry(t *testing.T) {
	stores := openTestStores(t)
	ctx := context.Background()
	now := time.Now()
	expired := now.Add(-time.Hour)

	entries := []*models.MemoryEntry{
		{ID: "m-1", ProjectID: "p", Category: "fact", Content: "close match", Importance: 0.5, Embedding: []float32{1, 0}, LastAccessedAt: now, CreatedAt: now},
		{ID: "m-2", ProjectID: "p", Category: "fact", Content: "far match", Importance: 0.5, Embedding: []float32{0, 1}, LastAccessedAt: now, CreatedAt: now},
		{ID: "m-3", ProjectID: "p", Category: "fact", Content: "stale", Importance: 0.5, ExpiresAt: &expired, LastAccessedAt: now, CreatedAt: now},
		{ID: "m-4", ProjectID: "other", Category: "fact", Content: "elsewhere", Importance: 0.5, Embedding: []float32{1, 0}, LastAccessedAt: now, CreatedAt: now},
	}
	for _, e := range entries {
		if err := stores.Memory.Insert(ctx, e); err != nil {
			t.Fatalf("insert %s: %v", e.ID, err)
		}
	}

	results, err := stores.Memory.Search(ctx, "p", "", []float32{1, 0}, 10)
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if len(results) != 2 {
		t.Fatalf("results = %d, want 2", len(results))
	}
	if results[0].Entry.ID != "m-1" {
		t.Fatalf("best = %q, want m-1", results[0].Entry.ID)
	}
	if results[0].Similarity <= results[1].Similarity {
		t.Fatal("results not sorted by similarity")
	}

	if err := stores.Memory.Touch(ctx, []string{"m-1"}, now); err != nil {
		t.Fatalf("touch: %v", err)
	}
	after, _ := stores.Memory.Search(ctx, "p", "", []float32{1, 0}, 1)
	if after[0].Entry.AccessCount != 1 {
		t.Fatalf("access count = %d, want 1", after[0].Entry.AccessCount)
	}

	n, err := stores.Memory.Count(ctx, "p")
	if err != nil || n != 3 {
		t.Fatalf("count = %d, %v", n, err)
	}
	removed, err := stores.Memory.DeleteExpired(ctx, now)
	if err != nil || removed != 1 {
		t.Fatalf("delete expired = %d, %v", removed, err)
	}
	if n, _ := stores.Memory.Count(ctx, "p"); n != 2 {
		t.Fatalf("count after expiry = %d", n)
	}
}

func TestApprovalListAndPrune(t *testing.T) {
	stores := openTestStores(t)
	ctx := context.Background()
	now := time.Now()

	approvals := []*models.Approval{
		{ID: "a-1", ProjectID: "p", Status: models.ApprovalPending, RequestedAt: now.Add(-48 * time.Hour)},
		{ID: "a-2", ProjectID: "p", Status: models.ApprovalPending, RequestedAt: now},
		{ID: "a-3", ProjectID: "p", Status: models.ApprovalApproved, RequestedAt: now.Add(-time.Minute)},
	}
	for _, a := range approvals {
		if err := stores.Approvals.Create(ctx, a); err != nil {
			t.Fatalf("create %s: %v", a.ID, err)
		}
	}

	pending, err := stores.Approvals.List(ctx, "p", models.ApprovalPending)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(pending) != 2 || pending[0].ID != "a-2" {
		t.Fatalf("pending = %+v", pending)
	}

	removed, err := stores.Approvals.Prune(ctx, 24*time.Hour)
	if err != nil || removed != 1 {
		t.Fatalf("prune = %d, %v", removed, err)
	}
}
