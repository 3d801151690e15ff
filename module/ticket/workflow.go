package ticket

import (
	"context"
	"fmt"
	"strings"

	"github.com/oneops-ai/incident-rca/core"
	"github.com/oneops-ai/incident-rca/domain"
	"github.com/oneops-ai/incident-rca/infra/log"
)

// Workflow 工单闭环流程。步骤严格按固定顺序执行：
// 更新解决方案 → 添加任务 → 关闭任务 → 添加工作日志 → 关闭工单。
// 任一步失败即停止，已完成的步骤不回滚，后续步骤不再尝试，也不整体重试。
type Workflow struct {
	client           core.TicketClient
	taskTitle        string
	resolutionPrefix string
}

// NewWorkflow 创建工单流程。
func NewWorkflow(client core.TicketClient, taskTitle, resolutionPrefix string) *Workflow {
	if taskTitle == "" {
		taskTitle = "RCA 跟进处理"
	}
	return &Workflow{client: client, taskTitle: taskTitle, resolutionPrefix: resolutionPrefix}
}

// Run 对单个工单执行完整闭环。返回的状态只包含已尝试的步骤：
// 完成的标记成功，失败的带错误文本，未尝试的不出现。
func (w *Workflow) Run(ctx context.Context, requestID string, decision domain.Decision, summary string) *domain.TicketState {
	state := &domain.TicketState{RequestID: requestID}
	resolution := w.resolutionText(decision)
	taskID := ""

	steps := []struct {
		name string
		run  func(ctx context.Context) error
	}{
		{domain.TicketStepUpdateSolution, func(ctx context.Context) error {
			return w.client.UpdateSolution(ctx, requestID, resolution)
		}},
		{domain.TicketStepAddTask, func(ctx context.Context) error {
			id, err := w.client.AddTask(ctx, requestID, w.taskTitle)
			taskID = id
			return err
		}},
		{domain.TicketStepCloseTask, func(ctx context.Context) error {
			return w.client.CloseTask(ctx, requestID, taskID)
		}},
		{domain.TicketStepAddWorklog, func(ctx context.Context) error {
			return w.client.AddWorklog(ctx, requestID, summary)
		}},
		{domain.TicketStepCloseTicket, func(ctx context.Context) error {
			return w.client.CloseTicket(ctx, requestID)
		}},
	}

	for _, step := range steps {
		if err := step.run(ctx); err != nil {
			log.Errorf("工单 %s 步骤 %s 失败，终止后续步骤: %v", requestID, step.name, err)
			state.Steps = append(state.Steps, domain.TicketStepResult{
				Step:  step.name,
				Error: err.Error(),
			})
			return state
		}
		state.Steps = append(state.Steps, domain.TicketStepResult{
			Step:      step.name,
			Completed: true,
		})
	}
	log.Infof("工单 %s 闭环完成", requestID)
	return state
}

// resolutionText 解决方案文本：前缀 + 5W1H 归档块。
func (w *Workflow) resolutionText(decision domain.Decision) string {
	var b strings.Builder
	if w.resolutionPrefix != "" {
		b.WriteString(w.resolutionPrefix)
		b.WriteString("\n\n")
	}
	fmt.Fprintf(&b, "根因: %s\n\n", decision.RootCause)
	b.WriteString("## 5W1H\n")
	fmt.Fprintf(&b, "- Who: %s\n", decision.ITSM.Who)
	fmt.Fprintf(&b, "- What: %s\n", decision.ITSM.What)
	fmt.Fprintf(&b, "- When: %s\n", decision.ITSM.When)
	fmt.Fprintf(&b, "- Where: %s\n", decision.ITSM.Where)
	fmt.Fprintf(&b, "- Why: %s\n", decision.ITSM.Why)
	fmt.Fprintf(&b, "- How: %s\n", decision.ITSM.How)
	return b.String()
}
