package transcript

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mattjoyce/codemig/internal/model"
)

func TestAppendNumbersRounds(t *testing.T) {
	tr := New("migrate")
	r1 := tr.Append(Round{Number: 99, Assistant: model.Message{Role: model.RoleAssistant, Content: "a"}})
	r2 := tr.Append(Round{Assistant: model.Message{Role: model.RoleAssistant, Content: "b"}})

	assert.Equal(t, 1, r1.Number)
	assert.Equal(t, 2, r2.Number)
	assert.Equal(t, 2, tr.Len())
}

func TestRoundsReturnsCopy(t *testing.T) {
	tr := New("migrate")
	tr.Append(Round{Assistant: model.Message{Content: "a"}})

	rounds := tr.Rounds()
	rounds[0].Assistant.Content = "mutated"
	rounds = append(rounds, Round{})

	assert.Equal(t, "a", tr.Rounds()[0].Assistant.Content)
	assert.Equal(t, 1, tr.Len())
}

func TestMessages(t *testing.T) {
	tr := New("migrate /work/r1")
	tr.Append(Round{
		Assistant: model.Message{
			Role:      model.RoleAssistant,
			ToolCalls: []model.ToolCall{{ID: "call_0", Name: "execute_command", Arguments: map[string]any{"command": "ls"}}},
		},
		Results: []ToolResult{{CallID: "call_0", Tool: "execute_command", Output: "pom.xml"}},
	})
	tr.Append(Round{Assistant: model.Message{Role: model.RoleAssistant, Content: "done"}})

	msgs := tr.Messages()
	require.Len(t, msgs, 4)
	assert.Equal(t, model.RoleUser, msgs[0].Role)
	assert.Equal(t, "migrate /work/r1", msgs[0].Content)
	assert.Equal(t, model.RoleAssistant, msgs[1].Role)
	assert.Equal(t, model.RoleTool, msgs[2].Role)
	assert.Equal(t, "execute_command", msgs[2].ToolName)
	assert.Equal(t, "call_0", msgs[2].ToolCallID)
	assert.Equal(t, "pom.xml", msgs[2].Content)
	assert.Equal(t, "done", msgs[3].Content)
}

func TestTrajectory(t *testing.T) {
	tr := New("go")
	tr.Append(Round{
		Assistant: model.Message{Role: model.RoleAssistant, Content: "checking"},
		Results:   []ToolResult{{Tool: "execute_command", Output: "ok"}},
	})

	traj := tr.Trajectory()
	require.Len(t, traj, 3)
	assert.Equal(t, "user", traj[0].Role)
	assert.Equal(t, 1, traj[1].Round)
	assert.Equal(t, "tool", traj[2].Role)
	assert.Equal(t, "execute_command", traj[2].ToolName)
}

func TestConcurrentReadersDuringAppend(t *testing.T) {
	tr := New("x")
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := 0; i < 100; i++ {
			_ = tr.Rounds()
			_ = tr.Messages()
		}
	}()
	for i := 0; i < 100; i++ {
		tr.Append(Round{})
	}
	wg.Wait()
	assert.Equal(t, 100, tr.Len())
}
