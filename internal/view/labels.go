package view

import "fmt"

const (
	LocaleEnglish = "en"
	LocaleZhTW    = "zh-TW"
)

// Labels holds every piece of user-visible text the desk produces.
type Labels struct {
	Title          string
	UserHeading    string
	NameField      string
	OverdueField   string
	CatalogHeading string
	RecordsHeading string
	ChatHeading    string
	AskPrompt      string
	Send           string

	PlaceholderName string
	Yes             string
	No              string
	LoadFailed      string
	Loading         string

	Available    string
	Unavailable  string
	BorrowAction string
	BooksError   string

	NoRecords    string
	BorrowDate   string
	DueDate      string
	ReturnDate   string
	NotReturned  string
	ReturnAction string
	RecordsError string

	BorrowSuccess string
	BorrowFailed  string // format, one %s for the server text
	BorrowError   string
	ReturnSuccess string
	ReturnFailed  string // format, one %s for the server text
	ReturnError   string

	Thinking        string
	ChatFailed      string // format, one %s for the server text
	ChatUnreachable string
	Welcome         string
}

var english = Labels{
	Title:          "Library",
	UserHeading:    "My account",
	NameField:      "Name",
	OverdueField:   "Overdue books",
	CatalogHeading: "Books",
	RecordsHeading: "My borrow records",
	ChatHeading:    "Library assistant",
	AskPrompt:      "Ask a question...",
	Send:           "Send",

	PlaceholderName: "User",
	Yes:             "Yes",
	No:              "No",
	LoadFailed:      "Failed to load",
	Loading:         "Loading...",

	Available:    "Available",
	Unavailable:  "Checked out",
	BorrowAction: "Borrow",
	BooksError:   "An error occurred while loading the book list.",

	NoRecords:    "You have no borrow records.",
	BorrowDate:   "Borrowed",
	DueDate:      "Due",
	ReturnDate:   "Returned",
	NotReturned:  "Not yet returned",
	ReturnAction: "Return",
	RecordsError: "An error occurred while loading borrow records.",

	BorrowSuccess: "Book borrowed successfully!",
	BorrowFailed:  "Borrow failed: %s",
	BorrowError:   "An error occurred while borrowing the book.",
	ReturnSuccess: "Book returned successfully!",
	ReturnFailed:  "Return failed: %s",
	ReturnError:   "An error occurred while returning the book.",

	Thinking:        "Thinking...",
	ChatFailed:      "Sorry, an error occurred: %s",
	ChatUnreachable: "Failed to reach the server.",
	Welcome: `Hello! I am the library's AI assistant. Welcome!

You can ask me questions such as:
1. How do I borrow a book?
2. How many books can I borrow at most?
3. How long is the loan period?
4. How do I return a book?
5. What happens if a book is overdue?
6. Can I recommend new books?`,
}

var traditionalChinese = Labels{
	Title:          "圖書館",
	UserHeading:    "我的帳戶",
	NameField:      "使用者名稱",
	OverdueField:   "是否有逾期書籍",
	CatalogHeading: "圖書列表",
	RecordsHeading: "我的借閱記錄",
	ChatHeading:    "圖書館AI助理",
	AskPrompt:      "請輸入您的問題...",
	Send:           "送出",

	PlaceholderName: "使用者",
	Yes:             "是",
	No:              "否",
	LoadFailed:      "載入失敗",
	Loading:         "載入中...",

	Available:    "可借閱",
	Unavailable:  "已借出",
	BorrowAction: "借閱",
	BooksError:   "載入圖書清單時發生錯誤。",

	NoRecords:    "您目前沒有任何借閱記錄。",
	BorrowDate:   "借閱日期",
	DueDate:      "到期日",
	ReturnDate:   "歸還日期",
	NotReturned:  "未歸還",
	ReturnAction: "歸還",
	RecordsError: "載入借閱記錄時發生錯誤。",

	BorrowSuccess: "借閱成功！",
	BorrowFailed:  "借閱失敗：%s",
	BorrowError:   "借閱書籍時發生錯誤。",
	ReturnSuccess: "歸還成功！",
	ReturnFailed:  "歸還失敗：%s",
	ReturnError:   "歸還書籍時發生錯誤。",

	Thinking:        "正在思考中...",
	ChatFailed:      "抱歉，發生錯誤：%s",
	ChatUnreachable: "與伺服器連線失敗。",
	Welcome: `親愛的使用者您好，我是圖書館的AI助理，歡迎您使用！

您可以詢問以下問題：
1. 如何借閱書籍？
2. 我最多可以借閱多少本書？
3. 借閱期限是多久？
4. 如何歸還圖書？
5. 如果圖書逾期了怎麼辦？
6. 我可以推薦新書嗎？`,
}

// LabelsFor returns the label set of locale, falling back to English.
func LabelsFor(locale string) Labels {
	if locale == LocaleZhTW {
		return traditionalChinese
	}
	return english
}

func (l Labels) BorrowFailedText(serverText string) string {
	return fmt.Sprintf(l.BorrowFailed, serverText)
}

func (l Labels) ReturnFailedText(serverText string) string {
	return fmt.Sprintf(l.ReturnFailed, serverText)
}

func (l Labels) ChatFailedText(serverText string) string {
	return fmt.Sprintf(l.ChatFailed, serverText)
}
