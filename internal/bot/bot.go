package bot

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/dosewatch/meds-reminder/internal/bot/state"
	"github.com/dosewatch/meds-reminder/internal/database"
	"github.com/dosewatch/meds-reminder/internal/dosetime"
	"github.com/dosewatch/meds-reminder/internal/fraction"
	"github.com/dosewatch/meds-reminder/internal/logger"
	"github.com/dosewatch/meds-reminder/internal/services"
	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

// Bot is the interactive UI collaborator: it lets the user browse the
// drug list, mark doses as taken and manage supplies. All mutations go
// through DrugService, so the reminder engine reschedules itself through
// the ordinary change-listener path.
type Bot struct {
	api     *tgbotapi.BotAPI
	drugSvc *services.DrugService
	prefSvc *services.PreferenceService
	states  state.Store
}

func NewBot(api *tgbotapi.BotAPI, drugSvc *services.DrugService, prefSvc *services.PreferenceService, states state.Store) *Bot {
	logger.Info("Bot authorized", "account", api.Self.UserName)
	return &Bot{
		api:     api,
		drugSvc: drugSvc,
		prefSvc: prefSvc,
		states:  states,
	}
}

func (b *Bot) Start(ctx context.Context) error {
	u := tgbotapi.NewUpdate(0)
	u.Timeout = 60
	updates := b.api.GetUpdatesChan(u)

	for {
		select {
		case <-ctx.Done():
			b.api.StopReceivingUpdates()
			return ctx.Err()
		case update := <-updates:
			if err := b.handleUpdate(ctx, update); err != nil {
				logger.Error("Failed to handle update", "error", err)
			}
		}
	}
}

func (b *Bot) sendMainMenu(chatID int64) error {
	keyboard := tgbotapi.NewInlineKeyboardMarkup(
		tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonData("💊 Лекарства", "list_drugs"),
			tgbotapi.NewInlineKeyboardButtonData("✅ Отметить приём", "take_dose"),
		),
		tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonData("📦 Запасы", "supply_status"),
		),
	)

	msg := tgbotapi.NewMessage(chatID, "Выберите действие:")
	msg.ReplyMarkup = keyboard
	_, err := b.api.Send(msg)
	return err
}

func (b *Bot) handleUpdate(ctx context.Context, update tgbotapi.Update) error {
	if update.Message == nil && update.CallbackQuery == nil {
		return nil
	}

	if update.CallbackQuery != nil {
		// Answer callback query to remove loading state
		callback := tgbotapi.NewCallback(update.CallbackQuery.ID, "")
		if _, err := b.api.Request(callback); err != nil {
			logger.Warn("Failed to answer callback query", "error", err)
		}
		return b.handleCallbackQuery(ctx, update.CallbackQuery)
	}

	if update.Message.IsCommand() {
		return b.handleCommand(ctx, update.Message)
	}

	if update.Message.Text != "" {
		return b.handleText(ctx, update.Message)
	}

	return nil
}

func (b *Bot) handleCommand(ctx context.Context, message *tgbotapi.Message) error {
	switch message.Command() {
	case "start", "menu":
		b.states.ClearUserState(message.From.ID)
		return b.sendMainMenu(message.Chat.ID)
	case "drugs":
		return b.sendDrugList(ctx, message.Chat.ID)
	default:
		msg := tgbotapi.NewMessage(message.Chat.ID, "Неизвестная команда. Используйте /start.")
		_, err := b.api.Send(msg)
		return err
	}
}

func (b *Bot) handleCallbackQuery(ctx context.Context, query *tgbotapi.CallbackQuery) error {
	chatID := query.Message.Chat.ID
	userID := query.From.ID
	data := query.Data

	switch {
	case data == "main_menu":
		b.states.ClearUserState(userID)
		return b.sendMainMenu(chatID)

	case data == "list_drugs":
		return b.sendDrugList(ctx, chatID)

	case data == "take_dose":
		return b.sendTakeDoseMenu(ctx, chatID)

	case data == "supply_status":
		return b.sendSupplyStatus(ctx, chatID)

	case strings.HasPrefix(data, "take:"):
		return b.takeDose(ctx, chatID, strings.TrimPrefix(data, "take:"))

	case strings.HasPrefix(data, "refill:"):
		return b.refill(ctx, chatID, strings.TrimPrefix(data, "refill:"))

	case strings.HasPrefix(data, "set_supply:"):
		b.states.SetUserState(userID, state.WaitingForSupply)
		b.states.SetTempData(userID, "drug_id", strings.TrimPrefix(data, "set_supply:"))
		msg := tgbotapi.NewMessage(chatID, "Введите остаток (например 30 или 3/4):")
		_, err := b.api.Send(msg)
		return err
	}

	return nil
}

func (b *Bot) handleText(ctx context.Context, message *tgbotapi.Message) error {
	userID := message.From.ID
	chatID := message.Chat.ID

	if b.states.GetUserState(userID) != state.WaitingForSupply {
		return b.sendMainMenu(chatID)
	}

	idText, ok := b.states.GetTempData(userID, "drug_id")
	if !ok {
		b.states.ClearUserState(userID)
		return b.sendMainMenu(chatID)
	}

	supply, err := fraction.Parse(message.Text)
	if err != nil || supply.Negative() {
		msg := tgbotapi.NewMessage(chatID, "Не получилось разобрать количество. Введите число или дробь, например 30 или 3/4.")
		_, err := b.api.Send(msg)
		return err
	}

	drug, err := b.drugByIDText(ctx, idText)
	if err != nil {
		return err
	}
	if err := drug.SetCurrentSupply(supply); err != nil {
		return err
	}
	if err := b.drugSvc.UpdateDrug(ctx, drug, 0); err != nil {
		return err
	}

	b.states.ClearUserState(userID)
	b.states.ClearTempData(userID)

	msg := tgbotapi.NewMessage(chatID, fmt.Sprintf("Остаток %s: %s", drug.Name, supply))
	if _, err := b.api.Send(msg); err != nil {
		return err
	}
	return b.sendMainMenu(chatID)
}

func (b *Bot) sendDrugList(ctx context.Context, chatID int64) error {
	drugs, err := b.drugSvc.ListDrugs(ctx)
	if err != nil {
		return err
	}
	if len(drugs) == 0 {
		msg := tgbotapi.NewMessage(chatID, "Список лекарств пуст.")
		_, err := b.api.Send(msg)
		return err
	}

	var sb strings.Builder
	sb.WriteString("Лекарства:\n")
	for i := range drugs {
		d := &drugs[i]
		status := ""
		if !d.Active {
			status = " (выключено)"
		}
		sb.WriteString(fmt.Sprintf("\n%s%s\nДозы: %s / %s / %s / %s",
			d.Name, status, d.DoseMorning, d.DoseNoon, d.DoseEvening, d.DoseNight))
		if d.RefillSize != 0 {
			sb.WriteString(fmt.Sprintf("\nОстаток: %s (~%.1f дн.)", d.CurrentSupply, d.SupplyDays()))
		}
		sb.WriteString("\n")
	}

	msg := tgbotapi.NewMessage(chatID, sb.String())
	msg.ReplyMarkup = backKeyboard()
	_, err = b.api.Send(msg)
	return err
}

func (b *Bot) sendTakeDoseMenu(ctx context.Context, chatID int64) error {
	date, slot, err := b.currentDoseSlot(ctx)
	if err != nil {
		return err
	}

	drugs, err := b.drugSvc.ListDrugs(ctx)
	if err != nil {
		return err
	}

	var rows [][]tgbotapi.InlineKeyboardButton
	for i := range drugs {
		d := &drugs[i]
		if !d.Active || d.Dose(slot).IsZero() || !d.HasDoseOnDate(date) {
			continue
		}
		taken, err := b.drugSvc.FindIntakes(ctx, d.ID, date, slot)
		if err != nil {
			return err
		}
		if len(taken) > 0 {
			continue
		}
		label := fmt.Sprintf("%s (%s)", d.Name, d.Dose(slot))
		rows = append(rows, tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonData(label, fmt.Sprintf("take:%d", d.ID)),
		))
	}

	if len(rows) == 0 {
		msg := tgbotapi.NewMessage(chatID, fmt.Sprintf("Нет непринятых доз (%s).", slotName(slot)))
		msg.ReplyMarkup = backKeyboard()
		_, err := b.api.Send(msg)
		return err
	}

	rows = append(rows, tgbotapi.NewInlineKeyboardRow(
		tgbotapi.NewInlineKeyboardButtonData("◀️ Главное меню", "main_menu"),
	))
	msg := tgbotapi.NewMessage(chatID, fmt.Sprintf("Что принято (%s)?", slotName(slot)))
	msg.ReplyMarkup = tgbotapi.NewInlineKeyboardMarkup(rows...)
	_, err = b.api.Send(msg)
	return err
}

func (b *Bot) takeDose(ctx context.Context, chatID int64, idText string) error {
	drug, err := b.drugByIDText(ctx, idText)
	if err != nil {
		return err
	}

	date, slot, err := b.currentDoseSlot(ctx)
	if err != nil {
		return err
	}

	if _, err := b.drugSvc.RecordIntake(ctx, drug, date, slot); err != nil {
		return err
	}

	msg := tgbotapi.NewMessage(chatID, fmt.Sprintf("Приём отмечен: %s (%s).", drug.Name, slotName(slot)))
	if _, err := b.api.Send(msg); err != nil {
		return err
	}
	return b.sendTakeDoseMenu(ctx, chatID)
}

func (b *Bot) refill(ctx context.Context, chatID int64, idText string) error {
	drug, err := b.drugByIDText(ctx, idText)
	if err != nil {
		return err
	}
	if err := b.drugSvc.RefillDrug(ctx, drug); err != nil {
		return err
	}
	msg := tgbotapi.NewMessage(chatID, fmt.Sprintf("Запас пополнен: %s, остаток %s.", drug.Name, drug.CurrentSupply))
	if _, err := b.api.Send(msg); err != nil {
		return err
	}
	return b.sendSupplyStatus(ctx, chatID)
}

func (b *Bot) sendSupplyStatus(ctx context.Context, chatID int64) error {
	drugs, err := b.drugSvc.ListDrugs(ctx)
	if err != nil {
		return err
	}

	var sb strings.Builder
	var rows [][]tgbotapi.InlineKeyboardButton
	sb.WriteString("Запасы:\n")
	tracked := 0
	for i := range drugs {
		d := &drugs[i]
		if d.RefillSize == 0 {
			continue
		}
		tracked++
		sb.WriteString(fmt.Sprintf("\n%s: %s (~%.1f дн.)", d.Name, d.CurrentSupply, d.SupplyDays()))
		rows = append(rows, tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonData(
				fmt.Sprintf("➕ %s (+%d)", d.Name, d.RefillSize), fmt.Sprintf("refill:%d", d.ID)),
			tgbotapi.NewInlineKeyboardButtonData("✏️", fmt.Sprintf("set_supply:%d", d.ID)),
		))
	}

	if tracked == 0 {
		msg := tgbotapi.NewMessage(chatID, "Учёт запасов не включён ни для одного лекарства.")
		msg.ReplyMarkup = backKeyboard()
		_, err := b.api.Send(msg)
		return err
	}

	rows = append(rows, tgbotapi.NewInlineKeyboardRow(
		tgbotapi.NewInlineKeyboardButtonData("◀️ Главное меню", "main_menu"),
	))
	msg := tgbotapi.NewMessage(chatID, sb.String())
	msg.ReplyMarkup = tgbotapi.NewInlineKeyboardMarkup(rows...)
	_, err = b.api.Send(msg)
	return err
}

// currentDoseSlot resolves which (date, slot) an intake recorded right now
// belongs to. Outside any window the dose is attributed to the most
// recently ended slot; just after midnight that is yesterday's night.
func (b *Bot) currentDoseSlot(ctx context.Context) (time.Time, dosetime.Slot, error) {
	windows, err := b.prefSvc.Windows(ctx)
	if err != nil {
		return time.Time{}, dosetime.None, err
	}

	now := time.Now()
	date := dosetime.DateOf(now)
	slot := windows.ActiveSlot(now)
	if slot == dosetime.None {
		next, err := windows.NextSlot(now)
		if err != nil {
			return time.Time{}, dosetime.None, err
		}
		slot = next - 1
		if slot < dosetime.Morning {
			slot = dosetime.Night
			date = date.AddDate(0, 0, -1)
		}
	}
	return date, slot, nil
}

func (b *Bot) drugByIDText(ctx context.Context, idText string) (*database.Drug, error) {
	id, err := strconv.ParseUint(idText, 10, 32)
	if err != nil {
		return nil, fmt.Errorf("invalid drug id %q: %w", idText, err)
	}
	return b.drugSvc.GetDrug(ctx, uint(id))
}

func backKeyboard() tgbotapi.InlineKeyboardMarkup {
	return tgbotapi.NewInlineKeyboardMarkup(
		tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonData("◀️ Главное меню", "main_menu"),
		),
	)
}

func slotName(slot dosetime.Slot) string {
	switch slot {
	case dosetime.Morning:
		return "утро"
	case dosetime.Noon:
		return "день"
	case dosetime.Evening:
		return "вечер"
	case dosetime.Night:
		return "ночь"
	default:
		return slot.String()
	}
}
