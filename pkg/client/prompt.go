package client

// SystemInstruction pins the assistant role and response language.
const SystemInstruction = "あなたはホテル・民泊の清掃チェック補助AIです。日本語で簡潔に返答してください。"

// UserInstruction specifies the exact output schema and the strict presence
// criteria. The per-amenity rules are deliberately literal instruction text;
// the client never re-derives them heuristically.
const UserInstruction = "この画像を清掃観点で解析し、必ず次のJSONだけを返してください。" +
	" keys: " +
	"  - labels: string[]," +
	"  - scores: object {hair_dust, clutter, quality, unnatural ∈ [0,1]}," +
	"  - comments: string[] (日本語・短文・最大5件)," +
	"  - presence: object {key:boolean|null, wifi:boolean|null, heater:boolean|null, tv:boolean|null}." +
	"\n\n" +
	"【presence 判定基準（厳密）】\n" +
	"- 共通: はっきり確認できるときだけ true。写っていない/判別困難なら null。明確に無いと分かる場合のみ false。\n" +
	"- key（鍵）: 物理的な鍵・キーボックス・スマートロックの実機や鍵束が写っている。鍵のイラストや単なるドアノブのみは不可。\n" +
	"- wifi（Wi-Fi）: ルーター/SSID・パスワードが書かれた紙/カード/ラベル、または" +
	" スマホ等のスクリーンショットで SSID/パスワード/接続画面が明瞭な場合も true。" +
	" 単なるケーブルやコンセントのみは不可。\n" +
	"- heater（給湯パネル）: 給湯器リモコン・温度設定パネル（風呂/台所等）。" +
	" ディスプレイに温度(℃)表示、湯/お湯/風呂/自動/追い焚き等の表示・アイコン、" +
	" 運転/停止などの給湯関連ボタンがある操作盤。" +
	" 【NG例（heater=false/null）】: エアコンのリモコン/室内機パネル、" +
	" インターホン/ドアホン、床暖房パネル、ガスメーター、電気ブレーカ、" +
	" ただの壁スイッチ。\n" +
	"- tv（テレビ）: テレビ本体の画面・ベゼル・リモコン等が明瞭。" +
	" モニターやデジタルサイネージの可能性が高く判別困難なら null。\n\n" +
	"【出力の厳密性】\n" +
	"- JSON以外の文字列や説明を含めない。\n" +
	"- presenceの各キーは必ず出力し、boolean もしくは null とする。\n" +
	"- 迷った場合は null を選ぶ（推測で true にしない）。\n"
