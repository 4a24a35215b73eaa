package dispatch

import (
	"context"
	"time"

	"school-gateway/internal/chat"
	"school-gateway/internal/models"
)

// Chat route descriptions, shared by every role's table.
const (
	DescSendMessage = "SEND_MESSAGE"
	DescMessages    = "MESSAGES"
	DescUnreadCount = "UNREAD_COUNT"
	DescRooms       = "ROOMS"
	DescEditMessage = "EDIT_MESSAGE"
)

// BuildTables constructs the per-role routing tables. Every role gets the
// chat routes; the rest bind role-specific business operations to executor
// handler refs. Tables are disjoint by construction.
func BuildTables(chatSvc *chat.Service, exec Executor) map[models.Role]Table {
	tables := make(map[models.Role]Table, len(models.AllRoles))
	for _, role := range models.AllRoles {
		t := make(Table)
		registerChatRoutes(t, chatSvc)
		tables[role] = t
	}

	admin := tables[models.RoleAdmin]
	admin.Register(VerbSearch, "ACCOUNTS", ExecutorHandler(exec, "admin.accounts.search"))
	admin.Register(VerbCreate, "ACCOUNT", ExecutorHandler(exec, "admin.accounts.create"))
	admin.Register(VerbUpdate, "ACCOUNT", ExecutorHandler(exec, "admin.accounts.update"))
	admin.Register(VerbRead, "TIMETABLES", ExecutorHandler(exec, "admin.timetables.list"))
	admin.Register(VerbCreate, "TIMETABLE", ExecutorHandler(exec, "admin.timetables.create"))
	admin.Register(VerbUpdate, "TIMETABLE", ExecutorHandler(exec, "admin.timetables.update"))
	admin.Register(VerbRead, "CLASSROOMS", ExecutorHandler(exec, "admin.classrooms.list"))
	admin.Register(VerbCreate, "CLASSROOM", ExecutorHandler(exec, "admin.classrooms.create"))
	admin.Register(VerbVerify, "PERMISSION", ExecutorHandler(exec, "admin.permissions.verify"))
	admin.Register(VerbRead, "AUDIT_LOG", ExecutorHandler(exec, "admin.audit.read"))

	teacher := tables[models.RoleTeacher]
	teacher.Register(VerbRead, "CLASSROOMS", ExecutorHandler(exec, "teacher.classrooms.list"))
	teacher.Register(VerbRead, "GRADES", ExecutorHandler(exec, "teacher.grades.list"))
	teacher.Register(VerbUpdate, "GRADE", ExecutorHandler(exec, "teacher.grades.update"))
	teacher.Register(VerbCreate, "ASSESSMENT", ExecutorHandler(exec, "teacher.assessments.create"))
	teacher.Register(VerbRead, "ASSESSMENTS", ExecutorHandler(exec, "teacher.assessments.list"))
	teacher.Register(VerbRead, "TIMETABLE", ExecutorHandler(exec, "teacher.timetable.read"))

	parent := tables[models.RoleParent]
	parent.RegisterEnriched(VerbRead, "CHILD_GRADES",
		resolveChildRef, ExecutorHandler(exec, "parent.grades.read"))
	parent.RegisterEnriched(VerbRead, "CHILD_TIMETABLE",
		resolveChildRef, ExecutorHandler(exec, "parent.timetable.read"))
	parent.Register(VerbRead, "ASSESSMENTS", ExecutorHandler(exec, "parent.assessments.list"))

	student := tables[models.RoleStudent]
	student.Register(VerbRead, "GRADES", ExecutorHandler(exec, "student.grades.read"))
	student.Register(VerbRead, "TIMETABLE", ExecutorHandler(exec, "student.timetable.read"))
	student.Register(VerbRead, "ASSESSMENTS", ExecutorHandler(exec, "student.assessments.list"))

	founder := tables[models.RoleFounder]
	founder.Register(VerbRead, "AUDIT_LOG", ExecutorHandler(exec, "founder.audit.read"))
	founder.Register(VerbSearch, "AUDIT_LOG", ExecutorHandler(exec, "founder.audit.search"))
	founder.Register(VerbRead, "REPORTS", ExecutorHandler(exec, "founder.reports.read"))
	founder.Register(VerbVerify, "PERMISSION", ExecutorHandler(exec, "founder.permissions.verify"))

	return tables
}

// resolveChildRef translates the symbolic "child" reference in a parent's
// request into the explicit childId the executor expects.
func resolveChildRef(identity models.Identity, details Details) (Details, error) {
	if _, ok := details["childId"].(string); ok {
		return details, nil
	}
	ref, ok := details["child"].(string)
	if !ok || ref == "" {
		return nil, &ValidationError{Field: "childId", Reason: "is required"}
	}
	out := make(Details, len(details)+1)
	for k, v := range details {
		out[k] = v
	}
	out["childId"] = ref
	out["parentId"] = identity.AccountID
	return out, nil
}

func registerChatRoutes(t Table, chatSvc *chat.Service) {
	t.Register(VerbCreate, DescSendMessage, sendMessageHandler(chatSvc))
	t.Register(VerbRead, DescMessages, historyHandler(chatSvc))
	t.Register(VerbRead, DescUnreadCount, unreadCountHandler(chatSvc))
	t.Register(VerbRead, DescRooms, roomsHandler(chatSvc))
	t.Register(VerbUpdate, DescEditMessage, editMessageHandler(chatSvc))
}

func sendMessageHandler(chatSvc *chat.Service) Handler {
	return func(ctx context.Context, identity models.Identity, details Details) (*Result, error) {
		recipient, ok := details["recipientId"].(string)
		if !ok || recipient == "" {
			return nil, &ValidationError{Field: "recipientId", Reason: "is required"}
		}
		content, _ := details["content"].(string)

		msg, err := chatSvc.Send(ctx, identity.AccountID, recipient, content)
		if err != nil {
			return nil, err
		}
		return &Result{Body: map[string]any{"message": msg}}, nil
	}
}

func historyHandler(chatSvc *chat.Service) Handler {
	return func(ctx context.Context, identity models.Identity, details Details) (*Result, error) {
		other, ok := details["otherId"].(string)
		if !ok || other == "" {
			return nil, &ValidationError{Field: "otherId", Reason: "is required"}
		}

		var cursor *time.Time
		if raw, ok := details["cursor"].(string); ok && raw != "" {
			parsed, err := time.Parse(time.RFC3339Nano, raw)
			if err != nil {
				return nil, &ValidationError{Field: "cursor", Reason: "must be an RFC3339 timestamp"}
			}
			cursor = &parsed
		}

		page, err := chatSvc.History(ctx, identity.AccountID, other, cursor)
		if err != nil {
			return nil, err
		}

		nextCursor := ""
		if !page.NextCursor.IsZero() {
			nextCursor = page.NextCursor.UTC().Format(time.RFC3339Nano)
		}
		return &Result{Body: map[string]any{
			"messages":   page.Messages,
			"nextCursor": nextCursor,
		}}, nil
	}
}

func unreadCountHandler(chatSvc *chat.Service) Handler {
	return func(ctx context.Context, identity models.Identity, details Details) (*Result, error) {
		other, ok := details["otherId"].(string)
		if !ok || other == "" {
			return nil, &ValidationError{Field: "otherId", Reason: "is required"}
		}
		count, err := chatSvc.UnreadCount(ctx, identity.AccountID, other)
		if err != nil {
			return nil, err
		}
		return &Result{Body: map[string]any{"unreadCount": count}}, nil
	}
}

func roomsHandler(chatSvc *chat.Service) Handler {
	return func(ctx context.Context, identity models.Identity, _ Details) (*Result, error) {
		summaries, err := chatSvc.Rooms(ctx, identity.AccountID)
		if err != nil {
			return nil, err
		}
		rooms := make([]map[string]any, 0, len(summaries))
		for _, s := range summaries {
			entry := map[string]any{
				"roomId":      s.Room.ID,
				"otherId":     s.Other,
				"unreadCount": s.UnreadCount,
			}
			if s.LastMessage != nil {
				entry["lastMessage"] = s.LastMessage
			}
			rooms = append(rooms, entry)
		}
		return &Result{Body: map[string]any{"rooms": rooms}}, nil
	}
}

func editMessageHandler(chatSvc *chat.Service) Handler {
	return func(ctx context.Context, identity models.Identity, details Details) (*Result, error) {
		messageID, ok := details["messageId"].(string)
		if !ok || messageID == "" {
			return nil, &ValidationError{Field: "messageId", Reason: "is required"}
		}
		content, _ := details["content"].(string)

		msg, err := chatSvc.Edit(ctx, identity.AccountID, messageID, content)
		if err != nil {
			return nil, err
		}
		return &Result{Body: map[string]any{"message": msg}}, nil
	}
}
