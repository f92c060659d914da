package physics

import "testing"

func TestStageByIndex(t *testing.T) {
	if StageCount() < 2 {
		t.Fatalf("expected at least 2 stages, got %d", StageCount())
	}

	for i := 0; i < StageCount(); i++ {
		stage, err := StageByIndex(i)
		if err != nil {
			t.Fatalf("StageByIndex(%d): %v", i, err)
		}
		if stage.Title == "" {
			t.Errorf("stage %d has empty title", i)
		}
		if stage.GoalY <= stage.SpawnY {
			t.Errorf("stage %d: goal %v not below spawn %v", i, stage.GoalY, stage.SpawnY)
		}
		if stage.ZoomY >= stage.GoalY {
			t.Errorf("stage %d: zoom line %v not above goal %v", i, stage.ZoomY, stage.GoalY)
		}
		if stage.SpawnWidth <= 0 {
			t.Errorf("stage %d: non-positive spawn width %v", i, stage.SpawnWidth)
		}
		if len(stage.Entities) == 0 {
			t.Errorf("stage %d has no entities", i)
		}
	}

	for _, idx := range []int{-1, StageCount()} {
		if _, err := StageByIndex(idx); err == nil {
			t.Errorf("StageByIndex(%d): expected error", idx)
		}
	}
}

func TestStageTitlesMatchCatalog(t *testing.T) {
	titles := StageTitles()
	if len(titles) != StageCount() {
		t.Fatalf("got %d titles for %d stages", len(titles), StageCount())
	}
	for i, title := range titles {
		stage, _ := StageByIndex(i)
		if stage.Title != title {
			t.Errorf("title %d: got %q, want %q", i, title, stage.Title)
		}
	}
}
