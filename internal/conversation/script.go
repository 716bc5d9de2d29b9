package conversation

import (
	"errors"

	"github.com/rs/zerolog/log"
)

// Purpose names a generation call site.
type Purpose string

const (
	PurposeAck             Purpose = "ack"
	PurposeUnpacking       Purpose = "unpacking"
	PurposePositioning     Purpose = "positioning"
	PurposeBio             Purpose = "bio"
	PurposeProductAnalysis Purpose = "product_analysis"
	PurposeJTBDPrimary     Purpose = "jtbd_primary"
	PurposeJTBDExtended    Purpose = "jtbd_extended"
)

// Prompts are the system instructions sent per purpose.
type Prompts struct {
	Ack             string
	Unpacking       string
	Positioning     string
	Bio             string
	ProductAnalysis string
	JTBDPrimary     string
	JTBDExtended    string
}

// Script is the conversation copy: questions, prompts and fixed replies.
// The interview quota is len(Interview); the product quota is len(Product).
type Script struct {
	Welcome   string
	Interview []string
	Product   []string
	Prompts   Prompts

	AgreeButton string
	MenuPrompt  string
	MenuBio     string
	MenuProduct string
	MenuJTBD    string
	MenuRegen   string

	ProductAdd     string
	ProductProceed string
	JTBDMore       string
	JTBDEnough     string

	ContentOffer     string
	ContentOfferSkip string
	GetAccess        string
	Have             string
	Later            string
	AccessReply      string
	HaveReply        string
	LaterReply       string
	CashierURL       string

	AckFallback        string
	GenerationFallback string
}

// Validate checks the script can drive a session to completion.
func (s *Script) Validate() error {
	if len(s.Interview) == 0 {
		return errors.New("script: no interview questions")
	}
	if len(s.Product) == 0 {
		return errors.New("script: no product questions")
	}
	return nil
}

// Policy maps a failed generation to the text shown in its place.
type Policy func(p Purpose, err error) string

// DefaultPolicy uses the script's static fillers.
func DefaultPolicy(s *Script) Policy {
	return func(p Purpose, err error) string {
		log.Warn().Err(err).Str("purpose", string(p)).Msg("Generation degraded to fallback text")
		if p == PurposeAck {
			return s.AckFallback
		}
		return s.GenerationFallback
	}
}

// DefaultScript returns the unpacking-bot copy.
func DefaultScript() *Script {
	return &Script{
		Welcome: "👋 Привет! Ты в боте «Твоя распаковка и анализ ЦА». Он поможет:\n" +
			"• распаковать твою экспертную личность;\n" +
			"• сформировать позиционирование и BIO;\n" +
			"• подробно разобрать продукт или услугу;\n" +
			"• провести анализ ЦА по JTBD.\n\n" +
			"🔐 Чтобы начать, подтверди согласие с Политикой конфиденциальности и Договором-офертой.\n\n" +
			"✅ Нажми «СОГЛАСЕН/СОГЛАСНА», и поехали!",
		Interview: []string{
			"1. Расскажи о своём профессиональном опыте. Чем ты занимаешься?",
			"2. Что вдохновляет тебя в твоей работе?",
			"3. Какие ценности ты считаешь ключевыми в жизни и в деятельности?",
			"4. В чём ты видишь свою миссию или предназначение?",
			"5. Что ты считаешь своим главным достижением?",
			"6. Какие черты характера помогают тебе в работе?",
			"7. Есть ли у тебя принципы или убеждения, которыми ты руководствуешься?",
			"8. Какие темы тебе особенно близки и важны?",
			"9. Какими знаниями и навыками ты особенно гордишься?",
			"10. Какие проблемы тебе особенно хочется решить с помощью своей деятельности?",
			"11. Как ты хочешь, чтобы тебя воспринимали клиенты или подписчики?",
			"12. Какие эмоции ты хочешь вызывать у своей аудитории?",
			"13. В чём ты отличаешься от других в своей нише?",
			"14. Какой образ ты стремишься создать в социальных сетях?",
			"15. Что ты хочешь, чтобы люди говорили о тебе после взаимодействия с твоим контентом или продуктом?",
		},
		Product: []string{
			"Расскажи о своём продукте или услуге: что это?",
			"А теперь расскажи, какую проблему решает этот продукт?",
			"И для кого он предназначен?",
		},
		Prompts: Prompts{
			Ack: "Ты поддерживающий коуч. Обращайся на «ты». Дай короткий комментарий к ответу: по теме, дружелюбно, без вопросов.",
			Unpacking: "На основе ответов сделай глубокую распаковку личности: ценности, убеждения, " +
				"сильные стороны, сообщения для аудитории.",
			Positioning: "На основе распаковки личности сформулируй чёткое позиционирование: кто ты (1–2 предложения " +
				"от первого лица), направления развития, ценности, сильные стороны, сообщение для аудитории, " +
				"цели, лозунг, миссия, призыв к действию. Стиль вдохновляющий, но конкретный, без повторов.",
			Bio: "На основе позиционирования сформулируй 5 вариантов BIO для Instagram. " +
				"Каждый вариант: 3–4 цепляющих тезиса, суммарно до 180 символов.",
			ProductAnalysis: "Проанализируй этот продукт или услугу и сформулируй его ценность, " +
				"сильные стороны и рекомендации по продвижению.",
			JTBDPrimary: "Сформулируй 3–4 основных сегмента ЦА по методу JTBD на основании распаковки, " +
				"позиционирования и продукта. Для каждого сегмента укажи: Job-to-be-done, неочевидные " +
				"потребности, неочевидные боли, триггеры, барьеры, альтернативы.",
			JTBDExtended: "Добавь ещё 3 неочевидных сегмента ЦА по JTBD в том же формате " +
				"(Job, потребности, боли, триггеры, барьеры, альтернативы).",
		},

		AgreeButton: "✅ СОГЛАСЕН/СОГЛАСНА",
		MenuPrompt:  "Что дальше?",
		MenuBio:     "📱 BIO",
		MenuProduct: "🎯 Продукт / Услуга",
		MenuJTBD:    "🔍 Анализ ЦА",
		MenuRegen:   "🔄 Пересобрать анализ ЦА",

		ProductAdd:     "➕ Добавить ещё продукт",
		ProductProceed: "➡️ Продолжить",
		JTBDMore:       "Хочу дополнительные сегменты",
		JTBDEnough:     "Хватит, благодарю",

		ContentOffer: "✅ Распаковка и анализ ЦА завершены: теперь у тебя есть фундамент для позиционирования, " +
			"упаковки и коммуникации.\n\nСледующий шаг: системная и креативная работа с контентом. " +
			"У меня как раз есть компаньон, Контент-ассистент 🤖\n\nОн поможет:\n" +
			"• создать стратегию под любую соцсеть\n• сформировать рубрики и контент-план\n" +
			"• написать посты, сторис и даже сценарии видео\n\nХочешь подключить его прямо сейчас?",
		ContentOfferSkip: "Поняла! 😊\n\nЕсли захочешь системно работать с контентом, у меня есть " +
			"Контент-ассистент 🤖\n\nОн поможет:\n• создать стратегию под любую соцсеть\n" +
			"• сформировать рубрики и контент-план\n• написать посты, сторис и даже сценарии видео\n\nПодключим его?",
		GetAccess:   "🪄 Получить доступ",
		Have:        "✅ Уже в арсенале",
		Later:       "⏳ Обращусь позже",
		AccessReply: "Отлично! Оформить доступ можно здесь 👇",
		HaveReply:   "Супер! Тогда переходи в Контент-ассистента и продолжай работу там 🚀",
		LaterReply:  "Хорошо! Возвращайся, когда будешь готов(а). Я здесь 🙌",

		AckFallback:        "⚠️ Не удалось получить комментарий. Продолжим 👇",
		GenerationFallback: "⚠️ Сейчас не получилось сгенерировать ответ. Попробуй позже, а пока продолжим.",
	}
}
